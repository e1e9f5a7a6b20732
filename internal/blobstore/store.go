// Package blobstore persists encrypted database blobs on the server side.
// The content is opaque; implementations only move bytes.
package blobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("blobstore: not found")

// Stat describes a stored blob.
type Stat struct {
	SizeBytes    int64
	LastModified time.Time
}

// Store is the byte-storage boundary consumed by the upload/download
// handlers. Keys are namespaced per user, e.g. "users/<id>.db.enc".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Stat returns nil when the key does not exist.
	Stat(ctx context.Context, key string) (*Stat, error)
}

// UserKey returns the canonical storage key for a user's encrypted blob.
func UserKey(userID string) string {
	return "users/" + userID + ".db.enc"
}
