package storage

import (
	"context"

	"github.com/go-faster/errors"
)

// KeyPrefix namespaces persisted cart snapshots.
const KeyPrefix = "cart-storage"

// SnapshotStore is a durable key-value store for encoded cart snapshots.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

var ErrSnapshotMiss = errors.New("snapshot miss")

// Key returns the storage key for a session.
func Key(sessionID string) string {
	return KeyPrefix + ":" + sessionID
}
