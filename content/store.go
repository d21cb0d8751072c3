package content

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jonwraymond/tokencache/kv"
)

// Record tags.
const (
	tagBlob     byte = 'b'
	tagSentinel byte = 'n'
	tagShard    byte = 's'
)

// DefaultMaxValueSize is the largest payload stored as a single record.
const DefaultMaxValueSize = 1 << 20

var (
	// ErrNotFound means the payload, or one of its shards, is absent.
	ErrNotFound = errors.New("content: entry not found")

	// ErrCorrupt means a record is not in the expected layout.
	ErrCorrupt = errors.New("content: entry is corrupt")

	// ErrInvalidHash means a hash is not 32 lowercase hex characters.
	ErrInvalidHash = errors.New("content: invalid hash")
)

// Hash addresses a payload: hex SHA-256 of the bytes truncated to 128 bits.
type Hash string

// Sum returns the hash of payload.
func Sum(payload []byte) Hash {
	sum := sha256.Sum256(payload)
	return Hash(hex.EncodeToString(sum[:16]))
}

// Valid reports whether h has the form produced by Sum.
func (h Hash) Valid() bool {
	if len(h) != 32 {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (h Hash) shardKey(i int) string {
	return string(h) + "_" + strconv.Itoa(i)
}

// Config configures a Store.
type Config struct {
	// MaxValueSize is the largest payload kept in one record. Default: 1 MiB
	MaxValueSize int

	// ShardSize is the size of each shard. Default: MaxValueSize
	ShardSize int
}

// Store is the content-addressed payload store over a kv.Store.
type Store struct {
	kv           kv.Store
	maxValueSize int
	shardSize    int
}

// New creates a content store. Give it a dedicated keyspace (kv.NewPrefixed)
// when the backing store is shared.
func New(store kv.Store, cfg Config) *Store {
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	if cfg.ShardSize <= 0 || cfg.ShardSize > cfg.MaxValueSize {
		cfg.ShardSize = cfg.MaxValueSize
	}
	return &Store{kv: store, maxValueSize: cfg.MaxValueSize, shardSize: cfg.ShardSize}
}

// MaxValueSize returns the sharding threshold.
func (s *Store) MaxValueSize() int {
	return s.maxValueSize
}

// Put hashes payload and writes it. It reports whether a physical write
// happened.
func (s *Store) Put(ctx context.Context, payload []byte) (Hash, bool, error) {
	h := Sum(payload)
	written, err := s.Write(ctx, h, payload)
	return h, written, err
}

// Write stores payload under h unless an entry for h already exists. It
// reports whether a physical write happened. The caller guarantees that h is
// the hash of payload.
func (s *Store) Write(ctx context.Context, h Hash, payload []byte) (bool, error) {
	if !h.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidHash, h)
	}
	exists, err := s.Has(ctx, h)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if len(payload) <= s.maxValueSize {
		rec := make([]byte, 0, len(payload)+1)
		rec = append(rec, tagBlob)
		rec = append(rec, payload...)
		if err := s.kv.Write(ctx, string(h), rec); err != nil {
			return false, fmt.Errorf("content: write %s: %w", h, err)
		}
		return true, nil
	}

	count := (len(payload) + s.shardSize - 1) / s.shardSize
	for i := 0; i < count; i++ {
		end := min((i+1)*s.shardSize, len(payload))
		chunk := payload[i*s.shardSize : end]
		rec := make([]byte, 0, len(chunk)+1)
		rec = append(rec, tagShard)
		rec = append(rec, chunk...)
		if err := s.kv.Write(ctx, h.shardKey(i), rec); err != nil {
			return false, fmt.Errorf("content: write shard %s/%d: %w", h, i, err)
		}
	}

	sentinel := []byte{tagSentinel}
	sentinel = binary.AppendUvarint(sentinel, uint64(count))
	sentinel = binary.AppendUvarint(sentinel, uint64(len(payload)))
	if err := s.kv.Write(ctx, string(h), sentinel); err != nil {
		return false, fmt.Errorf("content: write sentinel %s: %w", h, err)
	}
	return true, nil
}

// Read returns the payload stored under h, reassembling shards.
func (s *Store) Read(ctx context.Context, h Hash) ([]byte, error) {
	head, err := s.kv.Read(ctx, string(h))
	if err != nil {
		return nil, s.mapErr(h, err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: %s: empty record", ErrCorrupt, h)
	}

	switch head[0] {
	case tagBlob:
		return head[1:], nil
	case tagSentinel:
		count, size, err := s.parseSentinel(head)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h, err)
		}
		out := make([]byte, 0, min(size, s.maxValueSize))
		for i := 0; i < count; i++ {
			rec, err := s.kv.Read(ctx, h.shardKey(i))
			if err != nil {
				return nil, s.mapErr(h, err)
			}
			if len(rec) == 0 || rec[0] != tagShard {
				return nil, fmt.Errorf("%w: %s: shard %d has no shard tag", ErrCorrupt, h, i)
			}
			if len(out)+len(rec)-1 > size {
				return nil, fmt.Errorf("%w: %s: shards exceed %d bytes", ErrCorrupt, h, size)
			}
			out = append(out, rec[1:]...)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: %s: reassembled %d bytes, want %d", ErrCorrupt, h, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown tag %q", ErrCorrupt, h, head[0])
	}
}

// Has reports whether h is present and complete. A blob needs only its
// record; a sentinel needs every shard it names. Payload bytes are read only
// for a head record without a shard 0, to tell a blob from a sentinel whose
// first shard is gone.
func (s *Store) Has(ctx context.Context, h Hash) (bool, error) {
	ok, err := s.kv.Has(ctx, string(h))
	if err != nil || !ok {
		return false, err
	}
	sharded, err := s.kv.Has(ctx, h.shardKey(0))
	if err != nil {
		return false, err
	}

	head, err := s.kv.Read(ctx, string(h))
	if err != nil {
		if kv.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if len(head) == 0 {
		return false, nil
	}
	switch head[0] {
	case tagBlob:
		// A blob next to a stray shard: the blob is what readers get.
		return true, nil
	case tagSentinel:
		if !sharded {
			return false, nil
		}
	default:
		return false, nil
	}
	count, _, err := s.parseSentinel(head)
	if err != nil {
		return false, nil
	}
	for i := 1; i < count; i++ {
		ok, err := s.kv.Has(ctx, h.shardKey(i))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Delete removes h and its shards. The head record goes first so readers
// never see a sentinel with missing shards from an in-progress delete.
func (s *Store) Delete(ctx context.Context, h Hash) error {
	if err := s.kv.Delete(ctx, string(h)); err != nil {
		return fmt.Errorf("content: delete %s: %w", h, err)
	}
	return s.DeleteShards(ctx, h)
}

// DeleteShards removes the shards of h in index order until the first
// absent one, leaving any head record alone.
func (s *Store) DeleteShards(ctx context.Context, h Hash) error {
	for i := 0; ; i++ {
		ok, err := s.kv.Has(ctx, h.shardKey(i))
		if err != nil {
			return fmt.Errorf("content: check shard %s/%d: %w", h, i, err)
		}
		if !ok {
			return nil
		}
		if err := s.kv.Delete(ctx, h.shardKey(i)); err != nil {
			return fmt.Errorf("content: delete shard %s/%d: %w", h, i, err)
		}
	}
}

// Hashes lists every head record. Shard keys are skipped. Requires a
// listable backing store.
func (s *Store) Hashes(ctx context.Context) ([]Hash, error) {
	lister, ok := s.kv.(kv.Lister)
	if !ok {
		return nil, kv.ErrNotListable
	}
	keys, err := lister.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	hashes := make([]Hash, 0, len(keys))
	for _, k := range keys {
		if strings.Contains(k, "_") {
			continue
		}
		if h := Hash(k); h.Valid() {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// OrphanShards lists hashes that have shards but no head record.
func (s *Store) OrphanShards(ctx context.Context) ([]Hash, error) {
	lister, ok := s.kv.(kv.Lister)
	if !ok {
		return nil, kv.ErrNotListable
	}
	keys, err := lister.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	heads := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !strings.Contains(k, "_") {
			heads[k] = true
		}
	}
	seen := make(map[Hash]bool)
	var orphans []Hash
	for _, k := range keys {
		base, _, ok := strings.Cut(k, "_")
		if !ok || heads[base] {
			continue
		}
		if h := Hash(base); h.Valid() && !seen[h] {
			seen[h] = true
			orphans = append(orphans, h)
		}
	}
	return orphans, nil
}

// parseSentinel decodes and bounds-checks a sentinel. A sentinel always
// describes a payload above MaxValueSize split into non-empty shards of at
// most MaxValueSize bytes.
func (s *Store) parseSentinel(rec []byte) (count, size int, err error) {
	c, n := binary.Uvarint(rec[1:])
	if n <= 0 {
		return 0, 0, errors.New("bad shard count")
	}
	sz, m := binary.Uvarint(rec[1+n:])
	if m <= 0 {
		return 0, 0, errors.New("bad payload size")
	}
	if sz > math.MaxInt || sz <= uint64(s.maxValueSize) {
		return 0, 0, fmt.Errorf("payload size %d out of range", sz)
	}
	if c == 0 || c > sz || (sz+c-1)/c > uint64(s.maxValueSize) {
		return 0, 0, fmt.Errorf("shard count %d does not fit payload size %d", c, sz)
	}
	return int(c), int(sz), nil
}

func (s *Store) mapErr(h Hash, err error) error {
	if kv.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return fmt.Errorf("content: read %s: %w", h, err)
}
