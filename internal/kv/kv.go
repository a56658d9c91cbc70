// Package kv provides the embedded SQLite store backing perch's
// durable cache layer.
//
// The database holds one snapshot blob per cache namespace (pulls,
// issues, labels) plus a small metadata table for workspace facts like
// the last successful sync. It runs in embedded mode with WAL so the
// daemon and an interactive CLI can share the file: concurrent readers
// stay live during the debounced snapshot writes.
//
// Layout:
//   - Database file: .perch/cache.db
//   - snapshots: namespace -> JSON payload, one row per entity kind
//   - meta: key/value strings with update timestamps
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection used for durable cache state.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If the file doesn't exist it is created along with the
// schema. The caller MUST call Close() when done.
//
// Example:
//
//	store, err := kv.Open(".perch/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL keeps readers live while the debounced writer commits.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection for integration with
// code that expects one.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL so
// all changes land in the main file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		namespace TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// PutSnapshot stores the payload for a cache namespace, replacing any
// prior snapshot.
func (db *DB) PutSnapshot(namespace string, payload []byte) error {
	return db.PutSnapshotContext(context.Background(), namespace, payload)
}

// PutSnapshotContext stores a snapshot with context support.
func (db *DB) PutSnapshotContext(ctx context.Context, namespace string, payload []byte) error {
	query := `
	INSERT INTO snapshots (namespace, payload, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(namespace) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, namespace, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", namespace, err)
	}
	return nil
}

// GetSnapshot retrieves the payload for a cache namespace. A missing
// namespace returns a nil payload and no error.
func (db *DB) GetSnapshot(namespace string) ([]byte, time.Time, error) {
	return db.GetSnapshotContext(context.Background(), namespace)
}

// GetSnapshotContext retrieves a snapshot with context support.
func (db *DB) GetSnapshotContext(ctx context.Context, namespace string) ([]byte, time.Time, error) {
	var payload []byte
	var updatedAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT payload, updated_at FROM snapshots WHERE namespace = ?", namespace,
	).Scan(&payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read snapshot %s: %w", namespace, err)
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		ts = time.Time{}
	}
	return payload, ts, nil
}

// DeleteSnapshot removes the snapshot for a namespace. Returns nil if
// none exists (idempotent).
func (db *DB) DeleteSnapshot(namespace string) error {
	return db.DeleteSnapshotContext(context.Background(), namespace)
}

// DeleteSnapshotContext removes a snapshot with context support.
func (db *DB) DeleteSnapshotContext(ctx context.Context, namespace string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM snapshots WHERE namespace = ?", namespace)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", namespace, err)
	}
	return nil
}

// SnapshotInfo describes one stored snapshot for status output.
type SnapshotInfo struct {
	Namespace string
	Size      int
	UpdatedAt time.Time
}

// ListSnapshots returns every stored snapshot's namespace, size and
// update time, ordered by namespace.
func (db *DB) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT namespace, length(payload), updated_at FROM snapshots ORDER BY namespace")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var updatedAt string
		if err := rows.Scan(&info.Namespace, &info.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			info.UpdatedAt = ts
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return infos, nil
}

// SetMeta stores a small metadata string under key.
func (db *DB) SetMeta(key, value string) error {
	return db.SetMetaContext(context.Background(), key, value)
}

// SetMetaContext stores metadata with context support.
func (db *DB) SetMetaContext(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO meta (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store meta %s: %w", key, err)
	}
	return nil
}

// GetMeta retrieves a metadata string. A missing key returns "" and no
// error.
func (db *DB) GetMeta(key string) (string, error) {
	return db.GetMetaContext(context.Background(), key)
}

// GetMetaContext retrieves metadata with context support.
func (db *DB) GetMetaContext(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}
