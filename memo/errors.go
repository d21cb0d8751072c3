package memo

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheDataNotFound means metadata referenced a payload that is not in
	// the content store.
	ErrCacheDataNotFound = errors.New("memo: cached payload not found")

	// ErrCacheCorrupted means a payload stayed missing past the corruption
	// grace period and its metadata was purged.
	ErrCacheCorrupted = errors.New("memo: cache entry corrupted")

	// ErrNotVisible means a write did not become visible in time.
	ErrNotVisible = errors.New("memo: write not visible")

	// ErrClosed is returned by Purge, Flush and WaitVisible on a closed
	// Manager.
	ErrClosed = errors.New("memo: manager is closed")
)

// CallError carries an error returned by the wrapped function. It unwraps to
// the original error.
type CallError struct {
	API string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("memo: %s: %v", e.API, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsCallError reports whether err came from a wrapped function rather than
// from the cache.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}
