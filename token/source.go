package token

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/jonwraymond/tokencache/kv"
)

// ErrNotFound means a segment has never been updated.
var ErrNotFound = errors.New("token: segment not found")

// Record is the stored state of one segment.
type Record struct {
	Token time.Time
}

// Source is the authoritative store of segment tokens.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Upsert: creates the record when absent, overwrites otherwise.
// - Errors: Find returns ErrNotFound for a segment never upserted.
type Source interface {
	Upsert(ctx context.Context, seg Segment, rec Record) error
	Find(ctx context.Context, seg Segment) (Record, error)
	FindAll(ctx context.Context) (map[Segment]Record, error)
}

// MemorySource is an in-process Source.
type MemorySource struct {
	mu      sync.RWMutex
	records map[Segment]Record
}

// NewMemorySource creates an empty in-process source.
func NewMemorySource() *MemorySource {
	return &MemorySource{records: make(map[Segment]Record)}
}

func (m *MemorySource) Upsert(_ context.Context, seg Segment, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[seg] = rec
	return nil
}

func (m *MemorySource) Find(_ context.Context, seg Segment) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[seg]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemorySource) FindAll(_ context.Context) (map[Segment]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Segment]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

// KVSource keeps one record per segment in a listable kv store, encoded as
// a google.protobuf.Timestamp. Segment names are URL-escaped into keys.
type KVSource struct {
	store kv.ListStore
}

// NewKVSource creates a source over store. Give it a dedicated keyspace
// (kv.NewPrefixed) when the backing store is shared.
func NewKVSource(store kv.ListStore) *KVSource {
	return &KVSource{store: store}
}

func segmentKey(seg Segment) string {
	return url.QueryEscape(string(seg))
}

func (s *KVSource) Upsert(ctx context.Context, seg Segment, rec Record) error {
	raw, err := proto.Marshal(timestamppb.New(rec.Token))
	if err != nil {
		return fmt.Errorf("token: encode %s: %w", seg, err)
	}
	if err := s.store.Write(ctx, segmentKey(seg), raw); err != nil {
		return fmt.Errorf("token: upsert %s: %w", seg, err)
	}
	return nil
}

func (s *KVSource) Find(ctx context.Context, seg Segment) (Record, error) {
	raw, err := s.store.Read(ctx, segmentKey(seg))
	if err != nil {
		if kv.IsNotFound(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("token: find %s: %w", seg, err)
	}
	return decodeRecord(seg, raw)
}

// FindAll skips records that vanish between listing and reading.
func (s *KVSource) FindAll(ctx context.Context) (map[Segment]Record, error) {
	keys, err := s.store.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("token: list segments: %w", err)
	}
	out := make(map[Segment]Record, len(keys))
	for _, key := range keys {
		name, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		seg := Segment(name)
		rec, err := s.Find(ctx, seg)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[seg] = rec
	}
	return out, nil
}

func decodeRecord(seg Segment, raw []byte) (Record, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(raw, &ts); err != nil {
		return Record{}, fmt.Errorf("token: decode %s: %w", seg, err)
	}
	if err := ts.CheckValid(); err != nil {
		return Record{}, fmt.Errorf("token: decode %s: %w", seg, err)
	}
	return Record{Token: ts.AsTime()}, nil
}

// Ensure sources implement Source
var (
	_ Source = (*MemorySource)(nil)
	_ Source = (*KVSource)(nil)
)
