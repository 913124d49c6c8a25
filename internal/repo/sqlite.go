package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gateway-console/migrations"
)

// SQLiteStore provides access to a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database, creating the
// parent directory when missing.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	// Busy timeout and WAL mode are recommended for SQLite concurrency.
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteStore) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the SQLite schema migrations in lexicographical order.
func (r *SQLiteStore) RunMigrations(ctx context.Context) error {
	sub, err := fs.Sub(migrations.Files, "sqlite")
	if err != nil {
		return fmt.Errorf("open sqlite migrations: %w", err)
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
		if _, err := r.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// GetSettings reads the single settings row. A missing row yields empty settings.
func (r *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	const q = `SELECT base_url, credential, updated_at FROM settings WHERE id = 1 LIMIT 1;`
	var s Settings
	err := r.db.QueryRowContext(ctx, q).Scan(&s.BaseURL, &s.Credential, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

// SaveSettings upserts the single settings row.
func (r *SQLiteStore) SaveSettings(ctx context.Context, s Settings) error {
	const q = `
INSERT INTO settings (id, base_url, credential, updated_at)
VALUES (1, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (id) DO UPDATE SET
    base_url = excluded.base_url,
    credential = excluded.credential,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, s.BaseURL, s.Credential); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RecordPairingAttempt stores one issued pairing code for diagnostics.
func (r *SQLiteStore) RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error {
	const q = `
INSERT INTO pairing_attempts (id, instance, session_id, attempt, issued_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q, uuid.NewString(), instance, sessionID, attempt, issuedAt, expiresAt); err != nil {
		return fmt.Errorf("record pairing attempt: %w", err)
	}
	return nil
}

// ListPairingAttempts returns the newest attempts for an instance.
func (r *SQLiteStore) ListPairingAttempts(ctx context.Context, instance string, limit int) ([]PairingAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, instance, session_id, attempt, issued_at, expires_at, created_at
FROM pairing_attempts
WHERE instance = ?
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, instance, limit)
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
func (r *SQLiteStore) ReplaceInstanceSnapshots(ctx context.Context, snapshots []InstanceSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instance_snapshots;`); err != nil {
		return fmt.Errorf("clear instance snapshots: %w", err)
	}
	const q = `
INSERT INTO instance_snapshots (name, gateway_id, status, phone, profile_name, profile_picture, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx, q, snap.Name, snap.GatewayID, snap.Status, snap.Phone, snap.ProfileName, snap.ProfilePicture, snap.FetchedAt); err != nil {
			return fmt.Errorf("insert instance snapshot %s: %w", snap.Name, err)
		}
	}
	return tx.Commit()
}

// ListInstanceSnapshots returns the cached list view.
func (r *SQLiteStore) ListInstanceSnapshots(ctx context.Context) ([]InstanceSnapshot, error) {
	const q = `
SELECT name, gateway_id, status, phone, profile_name, profile_picture, fetched_at
FROM instance_snapshots
ORDER BY name;
`
	rows, err := r.db.QueryContext(ctx, q)
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
func (r *SQLiteStore) DeleteInstanceSnapshot(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM instance_snapshots WHERE name = ?;`, name); err != nil {
		return fmt.Errorf("delete instance snapshot: %w", err)
	}
	return nil
}
