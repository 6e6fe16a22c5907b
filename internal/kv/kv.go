// Package kv provides a small key-value abstraction with TTLs.
// The server uses it for short-lived install state when Redis is configured.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it holds expected, and reports
	// whether it did. The check and the delete happen as one step.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Close() error
}
