package server

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotInitialized is returned for uploads against a user that never
// called init.
var ErrNotInitialized = errors.New("server: user database not initialized")

// VersionConflictError reports a failed compare-and-swap on upload.
type VersionConflictError struct {
	Expected int64
	Server   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("server: version conflict: expected %d, server at %d", e.Expected, e.Server)
}

// MetaStore tracks the authoritative per-user blob version. The blob bytes
// themselves live in a blobstore.Store; only the version counter needs
// transactional storage.
type MetaStore struct {
	db *sql.DB
}

func OpenMeta(path string) (*MetaStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("server: open meta: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server: ping meta: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_blobs (
			user_id    TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server: meta schema: %w", err)
	}
	return &MetaStore{db: db}, nil
}

func (m *MetaStore) Close() error { return m.db.Close() }

// Version returns the user's current blob version and whether the user is
// registered at all.
func (m *MetaStore) Version(userID string) (int64, bool, error) {
	var v int64
	err := m.db.QueryRow(`SELECT version FROM user_blobs WHERE user_id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// InitUser registers the user at version 0 if absent and returns the
// current version either way.
func (m *MetaStore) InitUser(userID string) (int64, error) {
	if _, err := m.db.Exec(`
		INSERT INTO user_blobs (user_id, version, updated_at) VALUES (?, 0, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, time.Now().UTC()); err != nil {
		return 0, err
	}
	v, _, err := m.Version(userID)
	return v, err
}

// CheckAndIncrement performs the upload CAS: inside one transaction it
// verifies the stored version equals expected, runs put (the blob write),
// then bumps the version. A failed put rolls the version back, so the
// counter never runs ahead of the stored bytes.
func (m *MetaStore) CheckAndIncrement(userID string, expected int64, put func() error) (int64, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRow(`SELECT version FROM user_blobs WHERE user_id = ?`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, err
	}
	if current != expected {
		return 0, &VersionConflictError{Expected: expected, Server: current}
	}
	if err := put(); err != nil {
		return 0, fmt.Errorf("server: store blob: %w", err)
	}
	next := expected + 1
	if _, err := tx.Exec(`UPDATE user_blobs SET version = ?, updated_at = ? WHERE user_id = ?`,
		next, time.Now().UTC(), userID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}
