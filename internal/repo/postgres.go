package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gateway-console/migrations"
)

// PostgresStore provides access to a shared Postgres database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a new connection pool to the database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
	}
	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the connection pool.
func (r *PostgresStore) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies the Postgres schema migrations in lexicographical order.
func (r *PostgresStore) RunMigrations(ctx context.Context) error {
	sub, err := fs.Sub(migrations.Files, "postgres")
	if err != nil {
		return fmt.Errorf("open postgres migrations: %w", err)
	}
	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(sub, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, string(sqlBytes))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// GetSettings reads the single settings row. A missing row yields empty settings.
func (r *PostgresStore) GetSettings(ctx context.Context) (*Settings, error) {
	const q = `SELECT base_url, credential, updated_at FROM settings WHERE id = 1;`
	var s Settings
	err := r.pool.QueryRow(ctx, q).Scan(&s.BaseURL, &s.Credential, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

// SaveSettings upserts the single settings row.
func (r *PostgresStore) SaveSettings(ctx context.Context, s Settings) error {
	const q = `
INSERT INTO settings (id, base_url, credential, updated_at)
VALUES (1, $1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET
    base_url = EXCLUDED.base_url,
    credential = EXCLUDED.credential,
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, s.BaseURL, s.Credential); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RecordPairingAttempt stores one issued pairing code for diagnostics.
func (r *PostgresStore) RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error {
	const q = `
INSERT INTO pairing_attempts (instance, session_id, attempt, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := r.pool.Exec(ctx, q, instance, sessionID, attempt, issuedAt, expiresAt); err != nil {
		return fmt.Errorf("record pairing attempt: %w", err)
	}
	return nil
}

// ListPairingAttempts returns the newest attempts for an instance.
func (r *PostgresStore) ListPairingAttempts(ctx context.Context, instance string, limit int) ([]PairingAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, instance, session_id, attempt, issued_at, expires_at, created_at
FROM pairing_attempts
WHERE instance = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, instance, limit)
	if err != nil {
		return nil, fmt.Errorf("list pairing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []PairingAttempt
	for rows.Next() {
		var a PairingAttempt
		if err := rows.Scan(&a.ID, &a.Instance, &a.SessionID, &a.Attempt, &a.IssuedAt, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pairing attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairing attempts: %w", err)
	}
	return attempts, nil
}

// ReplaceInstanceSnapshots swaps the snapshot cache wholesale.
func (r *PostgresStore) ReplaceInstanceSnapshots(ctx context.Context, snapshots []InstanceSnapshot) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM instance_snapshots;`); err != nil {
			return fmt.Errorf("clear instance snapshots: %w", err)
		}
		const q = `
INSERT INTO instance_snapshots (name, gateway_id, status, phone, profile_name, profile_picture, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
		for _, snap := range snapshots {
			if _, err := tx.Exec(ctx, q, snap.Name, snap.GatewayID, snap.Status, snap.Phone, snap.ProfileName, snap.ProfilePicture, snap.FetchedAt); err != nil {
				return fmt.Errorf("insert instance snapshot %s: %w", snap.Name, err)
			}
		}
		return nil
	})
}

// ListInstanceSnapshots returns the cached list view.
func (r *PostgresStore) ListInstanceSnapshots(ctx context.Context) ([]InstanceSnapshot, error) {
	const q = `
SELECT name, gateway_id, status, phone, profile_name, profile_picture, fetched_at
FROM instance_snapshots
ORDER BY name;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list instance snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []InstanceSnapshot
	for rows.Next() {
		var s InstanceSnapshot
		if err := rows.Scan(&s.Name, &s.GatewayID, &s.Status, &s.Phone, &s.ProfileName, &s.ProfilePicture, &s.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan instance snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instance snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteInstanceSnapshot drops one cached record after a state-changing call.
func (r *PostgresStore) DeleteInstanceSnapshot(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM instance_snapshots WHERE name = $1;`, name); err != nil {
		return fmt.Errorf("delete instance snapshot: %w", err)
	}
	return nil
}
