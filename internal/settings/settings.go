package settings

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"gateway-console/internal/repo"
)

// Service owns the persisted user override of the gateway address and
// credential. Everything else reads it through the resolver; Save is the only
// mutation entry point.
type Service struct {
	store  repo.Store
	logger *slog.Logger
}

// New creates the settings service.
func New(store repo.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "settings"),
	}
}

// Get returns the stored override. Empty fields mean no override.
func (s *Service) Get(ctx context.Context) (*repo.Settings, error) {
	return s.store.GetSettings(ctx)
}

// Save validates and persists the override. An empty base URL clears the
// override so the resolver falls through to the next strategy.
func (s *Service) Save(ctx context.Context, baseURL, credential string) error {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("invalid gateway url %q: must be http(s) with a host", baseURL)
		}
		baseURL = strings.TrimRight(baseURL, "/")
	}

	if err := s.store.SaveSettings(ctx, repo.Settings{
		BaseURL:    baseURL,
		Credential: strings.TrimSpace(credential),
	}); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("settings saved", "base_url", baseURL, "credential_set", credential != "")
	return nil
}

// Override implements resolver.OverrideReader. Read fresh on every
// resolution so a save takes effect on the next outbound request.
func (s *Service) Override(ctx context.Context) (string, string, error) {
	stored, err := s.store.GetSettings(ctx)
	if err != nil {
		return "", "", err
	}
	return stored.BaseURL, stored.Credential, nil
}
