// Package meta stores per-call cache metadata: which payload a call
// resolved to and how fresh it was when computed.
package meta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/kv"
)

// ErrNotFound means no metadata exists for the key.
var ErrNotFound = errors.New("meta: not found")

// Meta is the metadata of one cached call.
type Meta struct {
	// Token is the registry token observed before the value was computed.
	Token time.Time

	// Hash addresses the payload in the content store.
	Hash content.Hash

	// FailureTime is when the payload was first found missing. Zero when
	// the entry is healthy.
	FailureTime time.Time

	// API is the identity of the function that produced the entry.
	API string
}

// Store keeps Meta records in a kv.Store keyed by call fingerprint.
//
// Contract:
// - Concurrency: safe for concurrent use; concurrent writers to one key
// resolve last-write-wins.
// - Errors: Get returns ErrNotFound on miss and ErrCorrupt for undecodable
// records.
type Store struct {
	kv kv.Store
}

// New creates a metadata store. Give it a dedicated keyspace
// (kv.NewPrefixed) when the backing store is shared.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Get returns the metadata for key.
func (s *Store) Get(ctx context.Context, key string) (Meta, error) {
	raw, err := s.kv.Read(ctx, key)
	if err != nil {
		if kv.IsNotFound(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("meta: read %s: %w", key, err)
	}
	m, err := Unmarshal(raw)
	if err != nil {
		return Meta{}, fmt.Errorf("meta: decode %s: %w", key, err)
	}
	return m, nil
}

// Put replaces the metadata for key.
func (s *Store) Put(ctx context.Context, key string, m Meta) error {
	raw, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := s.kv.Write(ctx, key, raw); err != nil {
		return fmt.Errorf("meta: write %s: %w", key, err)
	}
	return nil
}

// Delete removes the metadata for key. No error on miss.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("meta: delete %s: %w", key, err)
	}
	return nil
}

// MarkFailure records now as the first failure time unless one is already
// set, and returns the updated metadata.
func (s *Store) MarkFailure(ctx context.Context, key string, now time.Time) (Meta, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return Meta{}, err
	}
	if !m.FailureTime.IsZero() {
		return m, nil
	}
	m.FailureTime = now
	return m, s.Put(ctx, key, m)
}

// ClearFailure removes a recorded failure time.
func (s *Store) ClearFailure(ctx context.Context, key string) error {
	m, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if m.FailureTime.IsZero() {
		return nil
	}
	m.FailureTime = time.Time{}
	return s.Put(ctx, key, m)
}

// Keys lists every key with metadata. Requires a listable backing store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	lister, ok := s.kv.(kv.Lister)
	if !ok {
		return nil, kv.ErrNotListable
	}
	return lister.Keys(ctx, "")
}

// Refs counts, per content hash, the metadata records that reference it.
// Counts are computed by scanning, so they stay correct when concurrent
// writers race on the same key. Records that vanish or fail to decode during
// the scan are skipped.
func (s *Store) Refs(ctx context.Context) (map[content.Hash]int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[content.Hash]int, len(keys))
	for _, key := range keys {
		m, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
			continue
		}
		if err != nil {
			return nil, err
		}
		refs[m.Hash]++
	}
	return refs, nil
}
