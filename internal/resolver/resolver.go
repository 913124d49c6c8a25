package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// ErrUnresolvable indicates no strategy produced a gateway address. Running
// headless with no configured backend is a fatal misconfiguration; the
// resolver fails loudly rather than guess.
var ErrUnresolvable = errors.New("gateway address unresolvable")

// LocalFallbackURL is used when the console serves on a loopback host.
const LocalFallbackURL = "http://localhost:8080"

// Endpoint is the resolved {baseUrl, credential} pair for one outbound request.
type Endpoint struct {
	BaseURL    string
	Credential string
}

// OverrideReader reads the persisted user override. Implemented by the
// settings store; the resolver never writes to it.
type OverrideReader interface {
	Override(ctx context.Context) (baseURL, credential string, err error)
}

// Config carries the static inputs of the resolution chain.
type Config struct {
	// DefaultURL is the build/deploy-time gateway address.
	DefaultURL string
	// HostPattern derives the gateway host from ServingHost, e.g. "api.{host}".
	HostPattern string
	// ServingHost is the host the dashboard is served on. Empty means headless.
	ServingHost string
	// DefaultCredential applies when no override credential is stored.
	DefaultCredential string
}

// Resolver produces the gateway endpoint for every outbound request. Each
// strategy returns its candidate and whether it applies; the first match wins.
// Resolution happens fresh on every call so a settings save takes effect
// immediately on the next request.
type Resolver struct {
	overrides OverrideReader
	cfg       Config
	logger    *slog.Logger
}

type strategy struct {
	name  string
	apply func(ctx context.Context) (string, bool)
}

// New creates a resolver. overrides may be nil when no settings store exists.
func New(overrides OverrideReader, cfg Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		overrides: overrides,
		cfg:       cfg,
		logger:    logger.With("component", "resolver"),
	}
}

// Resolve walks the strategy chain and returns the endpoint to use.
func (r *Resolver) Resolve(ctx context.Context) (Endpoint, error) {
	overrideURL, overrideCred := r.readOverride(ctx)

	credential := overrideCred
	if credential == "" {
		credential = r.cfg.DefaultCredential
	}

	for _, s := range r.strategies(overrideURL) {
		if baseURL, ok := s.apply(ctx); ok {
			if s.name == "same-origin" {
				r.logger.Warn("falling back to same-origin gateway address", "base_url", baseURL)
			}
			return Endpoint{BaseURL: strings.TrimRight(baseURL, "/"), Credential: credential}, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: no override, default, or serving host configured", ErrUnresolvable)
}

func (r *Resolver) strategies(overrideURL string) []strategy {
	return []strategy{
		{name: "override", apply: func(context.Context) (string, bool) {
			return overrideURL, overrideURL != ""
		}},
		{name: "default", apply: func(context.Context) (string, bool) {
			return r.cfg.DefaultURL, r.cfg.DefaultURL != ""
		}},
		{name: "host-pattern", apply: func(context.Context) (string, bool) {
			if r.cfg.HostPattern == "" || r.cfg.ServingHost == "" || isLoopback(r.cfg.ServingHost) {
				return "", false
			}
			host := strings.ReplaceAll(r.cfg.HostPattern, "{host}", stripPort(r.cfg.ServingHost))
			return "https://" + host, true
		}},
		{name: "loopback", apply: func(context.Context) (string, bool) {
			return LocalFallbackURL, r.cfg.ServingHost != "" && isLoopback(r.cfg.ServingHost)
		}},
		{name: "same-origin", apply: func(context.Context) (string, bool) {
			if r.cfg.ServingHost == "" {
				return "", false
			}
			return "https://" + r.cfg.ServingHost, true
		}},
	}
}

func (r *Resolver) readOverride(ctx context.Context) (string, string) {
	if r.overrides == nil {
		return "", ""
	}
	baseURL, credential, err := r.overrides.Override(ctx)
	if err != nil {
		r.logger.Warn("read settings override failed", "error", err)
		return "", ""
	}
	return strings.TrimSpace(baseURL), strings.TrimSpace(credential)
}

func isLoopback(host string) bool {
	host = stripPort(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
