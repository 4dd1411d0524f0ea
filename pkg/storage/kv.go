// Package storage provides the small persistence surface the service needs:
// an opaque string-keyed store used for sync checkpoints and similar
// operational state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// KV exposes get/put/delete over opaque byte values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
