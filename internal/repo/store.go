package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Store defines the interface for local persistence. Two implementations
// exist: Postgres for shared deployments and SQLite for single-user ones.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context) error

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	// Pairing diagnostics
	RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error
	ListPairingAttempts(ctx context.Context, instance string, limit int) ([]PairingAttempt, error)

	// Instance snapshot cache
	ReplaceInstanceSnapshots(ctx context.Context, snapshots []InstanceSnapshot) error
	ListInstanceSnapshots(ctx context.Context) ([]InstanceSnapshot, error)
	DeleteInstanceSnapshot(ctx context.Context, name string) error
}

// New selects the backing store: Postgres when a database URL is configured,
// otherwise the local SQLite file.
func New(ctx context.Context, databaseURL, sqlitePath string, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		store, err := NewPostgres(ctx, databaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	}
	store, err := NewSQLite(ctx, sqlitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("init sqlite store: %w", err)
	}
	return store, nil
}
