package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gateway-console/internal/conn"
	"gateway-console/internal/gateway"
	"gateway-console/internal/repo"
	"gateway-console/internal/resolver"
)

type staticEndpoint struct {
	ep resolver.Endpoint
}

func (s staticEndpoint) Resolve(context.Context) (resolver.Endpoint, error) {
	return s.ep, nil
}

// fakeStore serves canned snapshots and a switchable ping result.
type fakeStore struct {
	snapshots []repo.InstanceSnapshot
	pingErr   error
}

func (f *fakeStore) Close()                                  {}
func (f *fakeStore) Ping(ctx context.Context) error          { return f.pingErr }
func (f *fakeStore) RunMigrations(ctx context.Context) error { return nil }

func (f *fakeStore) GetSettings(ctx context.Context) (*repo.Settings, error) {
	return &repo.Settings{}, nil
}

func (f *fakeStore) SaveSettings(ctx context.Context, s repo.Settings) error { return nil }

func (f *fakeStore) RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error {
	return nil
}

func (f *fakeStore) ListPairingAttempts(ctx context.Context, instance string, limit int) ([]repo.PairingAttempt, error) {
	return nil, nil
}

func (f *fakeStore) ReplaceInstanceSnapshots(ctx context.Context, snapshots []repo.InstanceSnapshot) error {
	f.snapshots = snapshots
	return nil
}

func (f *fakeStore) ListInstanceSnapshots(ctx context.Context) ([]repo.InstanceSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) DeleteInstanceSnapshot(ctx context.Context, name string) error { return nil }

func deadGatewayClient() *gateway.Client {
	// Nothing listens on this address; every request fails in transport.
	return gateway.New(gateway.Config{Timeout: time.Second}, staticEndpoint{ep: resolver.Endpoint{
		BaseURL: "http://127.0.0.1:1",
	}}, slog.Default(), nil, nil)
}

func TestListServesStoredSnapshotsWhenGatewayDown(t *testing.T) {
	fetched := time.Now().Add(-time.Minute)
	store := &fakeStore{snapshots: []repo.InstanceSnapshot{
		{Name: "alpha", GatewayID: "id-1", Status: "connected", Phone: "551199", FetchedAt: fetched},
		{Name: "beta", Status: "disconnected", FetchedAt: fetched.Add(-time.Hour)},
	}}
	s := &Server{logger: slog.Default(), deps: Dependencies{Gateway: deadGatewayClient(), Store: store}}

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	rec := httptest.NewRecorder()
	s.handleListInstances(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Instances []gateway.Instance `json:"instances"`
		Stale     bool               `json:"stale"`
		FetchedAt time.Time          `json:"fetchedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Stale {
		t.Fatal("fallback response must be marked stale")
	}
	if len(resp.Instances) != 2 {
		t.Fatalf("expected 2 stored instances, got %d", len(resp.Instances))
	}
	if resp.Instances[0].Name != "alpha" || resp.Instances[0].Status != gateway.StatusConnected {
		t.Fatalf("snapshot not mapped to canonical record: %+v", resp.Instances[0])
	}
	if resp.FetchedAt.IsZero() {
		t.Fatal("fallback must report when the snapshots were taken")
	}
}

func TestListFallbackWithoutStoreIsEmpty(t *testing.T) {
	s := &Server{logger: slog.Default(), deps: Dependencies{Gateway: deadGatewayClient()}}

	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	rec := httptest.NewRecorder()
	s.handleListInstances(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Instances []gateway.Instance `json:"instances"`
		Stale     bool               `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Stale || len(resp.Instances) != 0 {
		t.Fatalf("expected empty stale list, got %+v", resp)
	}
}

func TestHealthReportsDatabaseOutage(t *testing.T) {
	s := &Server{logger: slog.Default(), deps: Dependencies{Store: &fakeStore{pingErr: errors.New("connection refused")}}}
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", rec.Code)
	}

	s = &Server{logger: slog.Default(), deps: Dependencies{Store: &fakeStore{}}}
	rec = httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when the database responds, got %d", rec.Code)
	}
}

type idleAPI struct{}

func (idleAPI) Connect(ctx context.Context, name string) error { return nil }

func (idleAPI) GetStatus(ctx context.Context, name string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: gateway.StatusConnecting, Raw: "connecting", CheckedAt: time.Now()}, nil
}

func (idleAPI) GetPairingCode(ctx context.Context, name string) (string, error) {
	return "CODE-1", nil
}

func TestFlowsListsKnownSessions(t *testing.T) {
	manager := conn.NewManager(idleAPI{}, nil, slog.Default(), nil, conn.DefaultConfig())
	t.Cleanup(manager.Shutdown)
	s := &Server{logger: slog.Default(), deps: Dependencies{Conn: manager}}

	rec := httptest.NewRecorder()
	s.handleFlows(rec, httptest.NewRequest(http.MethodGet, "/api/flows", nil))
	var resp struct {
		Flows []conn.Snapshot `json:"flows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Flows) != 0 {
		t.Fatalf("expected no flows, got %d", len(resp.Flows))
	}

	if _, err := manager.Connect(context.Background(), "beta"); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Connect(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	s.handleFlows(rec, httptest.NewRequest(http.MethodGet, "/api/flows", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Flows) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(resp.Flows))
	}
	if resp.Flows[0].Name != "alpha" || resp.Flows[1].Name != "beta" {
		t.Fatalf("flows must be sorted by name, got %+v", resp.Flows)
	}
}
