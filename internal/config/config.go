package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// BuildDefaultGatewayURL is injected at build time via
// -ldflags "-X gateway-console/internal/config.BuildDefaultGatewayURL=https://...".
// It sits below the persisted user override in the resolver chain.
var BuildDefaultGatewayURL string

// Config holds all environment-driven settings for the console.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8090"`
	PublicBasePath string `envconfig:"PUBLIC_BASE_PATH"`
	// ServingHost is the host the dashboard is reached on. It feeds the
	// resolver's host-based inference and loopback fallback. Empty means the
	// console runs headless.
	ServingHost string `envconfig:"SERVING_HOST"`

	// GatewayURL is the build/deploy-time default backend address. When unset,
	// the ldflags-injected BuildDefaultGatewayURL applies.
	GatewayURL string `envconfig:"GATEWAY_URL"`
	// GatewayHostPattern derives the gateway host from the serving host,
	// e.g. "api.{host}". Empty disables host inference.
	GatewayHostPattern string        `envconfig:"GATEWAY_HOST_PATTERN"`
	GatewayAPIKey      string        `envconfig:"GATEWAY_API_KEY"`
	GatewayTimeout     time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`

	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/console.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool   `envconfig:"REDIS_TLS" default:"false"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"gateway_console"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = BuildDefaultGatewayURL
	}
	return &cfg, nil
}
