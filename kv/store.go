package kv

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a store key.
const MaxKeyLength = 512

// Sentinel errors for store operations.
var (
	ErrNotFound   = errors.New("kv: key not found")
	ErrClosed     = errors.New("kv: store is closed")
	ErrInvalidKey = errors.New("kv: key is invalid")
	ErrKeyTooLong = errors.New("kv: key exceeds max length")

	// ErrNotListable is returned when key enumeration is requested from a
	// store that does not implement Lister.
	ErrNotListable = errors.New("kv: store cannot list keys")
)

// Store is the pluggable byte store under the content, metadata and token
// keyspaces.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: a single Write is atomic; readers see the old or the new value.
// - Errors: Read returns ErrNotFound on miss. Delete is idempotent.
// - Ownership: returned slices are owned by the caller.
type Store interface {
	// Write stores value under key, replacing any previous value.
	Write(ctx context.Context, key string, value []byte) error

	// Read returns the value stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. No error on miss.
	Delete(ctx context.Context, key string) error

	// Has reports whether key exists without transferring its value.
	Has(ctx context.Context, key string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	// Keys returns every key with the given prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ListStore is a Store that can also enumerate keys.
type ListStore interface {
	Store
	Lister
}

// ValidateKey checks if a key is usable by every backend.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// IsNotFound reports whether err marks a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
