package settings

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"gateway-console/internal/repo"
)

// memStore keeps settings in memory; the other Store methods are unused here.
type memStore struct {
	settings repo.Settings
}

func (m *memStore) Close()                         {}
func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *memStore) GetSettings(ctx context.Context) (*repo.Settings, error) {
	cp := m.settings
	return &cp, nil
}

func (m *memStore) SaveSettings(ctx context.Context, s repo.Settings) error {
	s.UpdatedAt = time.Now()
	m.settings = s
	return nil
}

func (m *memStore) RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error {
	return nil
}

func (m *memStore) ListPairingAttempts(ctx context.Context, instance string, limit int) ([]repo.PairingAttempt, error) {
	return nil, nil
}

func (m *memStore) ReplaceInstanceSnapshots(ctx context.Context, snapshots []repo.InstanceSnapshot) error {
	return nil
}

func (m *memStore) ListInstanceSnapshots(ctx context.Context) ([]repo.InstanceSnapshot, error) {
	return nil, nil
}

func (m *memStore) DeleteInstanceSnapshot(ctx context.Context, name string) error {
	return nil
}

func TestSaveRejectsMalformedURLs(t *testing.T) {
	svc := New(&memStore{}, slog.Default())
	for _, bad := range []string{
		"not a url",
		"ftp://example.com",
		"http://",
		"//missing-scheme",
	} {
		if err := svc.Save(context.Background(), bad, ""); err == nil {
			t.Errorf("url %q: expected validation error", bad)
		}
	}
}

func TestSaveNormalizesTrailingSlash(t *testing.T) {
	store := &memStore{}
	svc := New(store, slog.Default())

	if err := svc.Save(context.Background(), "https://gw.example.com/", "key-1"); err != nil {
		t.Fatal(err)
	}
	if store.settings.BaseURL != "https://gw.example.com" {
		t.Fatalf("trailing slash must be trimmed, got %q", store.settings.BaseURL)
	}
	if store.settings.Credential != "key-1" {
		t.Fatalf("credential not stored, got %q", store.settings.Credential)
	}
}

func TestSaveEmptyClearsOverride(t *testing.T) {
	store := &memStore{settings: repo.Settings{BaseURL: "https://old.example.com", Credential: "old"}}
	svc := New(store, slog.Default())

	if err := svc.Save(context.Background(), "", ""); err != nil {
		t.Fatal(err)
	}
	if store.settings.BaseURL != "" || store.settings.Credential != "" {
		t.Fatalf("empty save must clear the override, got %+v", store.settings)
	}
}

func TestOverrideReadsFreshValues(t *testing.T) {
	store := &memStore{}
	svc := New(store, slog.Default())

	base, cred, err := svc.Override(context.Background())
	if err != nil || base != "" || cred != "" {
		t.Fatalf("expected empty override, got %q %q %v", base, cred, err)
	}

	if err := svc.Save(context.Background(), "http://10.0.0.5:8080", "k"); err != nil {
		t.Fatal(err)
	}
	base, cred, err = svc.Override(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if base != "http://10.0.0.5:8080" || cred != "k" {
		t.Fatalf("override must reflect the latest save, got %q %q", base, cred)
	}
}
