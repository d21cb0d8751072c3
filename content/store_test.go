package content

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/jonwraymond/tokencache/kv"
)

func payloadOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestSum(t *testing.T) {
	h := Sum([]byte("hello"))
	if !h.Valid() {
		t.Fatalf("Sum() = %q, not a valid hash", h)
	}
	if Sum([]byte("hello")) != h {
		t.Error("Sum() is not deterministic")
	}
	if Sum([]byte("hello!")) == h {
		t.Error("Sum() collided on different input")
	}
	for _, bad := range []Hash{"", "abc", Hash(bytes.Repeat([]byte("G"), 32))} {
		if bad.Valid() {
			t.Errorf("Valid(%q) = true", bad)
		}
	}
}

func TestStore_RoundTripAroundThreshold(t *testing.T) {
	ctx := context.Background()
	const threshold = 8

	for _, size := range []int{0, 1, threshold - 1, threshold, threshold + 1, 2 * threshold, 2*threshold + 1, 5*threshold - 3} {
		backing := kv.NewMemory()
		s := New(backing, Config{MaxValueSize: threshold})
		payload := payloadOf(size)

		h, written, err := s.Put(ctx, payload)
		if err != nil {
			t.Fatalf("size %d: Put() error = %v", size, err)
		}
		if !written {
			t.Errorf("size %d: first Put() reported no write", size)
		}

		got, err := s.Read(ctx, h)
		if err != nil {
			t.Fatalf("size %d: Read() error = %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("size %d: Read() returned different bytes", size)
		}

		wantRecords := 1
		if size > threshold {
			wantRecords = 1 + (size+threshold-1)/threshold
		}
		if backing.Len() != wantRecords {
			t.Errorf("size %d: %d records, want %d", size, backing.Len(), wantRecords)
		}

		ok, err := s.Has(ctx, h)
		if err != nil || !ok {
			t.Errorf("size %d: Has() = %v, %v", size, ok, err)
		}
	}
}

func TestStore_Dedup(t *testing.T) {
	ctx := context.Background()
	for _, size := range []int{4, 40} {
		backing := kv.NewMemory()
		s := New(backing, Config{MaxValueSize: 16})

		h1, w1, err := s.Put(ctx, payloadOf(size))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		before := backing.Len()
		h2, w2, err := s.Put(ctx, payloadOf(size))
		if err != nil {
			t.Fatalf("second Put() error = %v", err)
		}
		if h1 != h2 {
			t.Errorf("equal payloads hashed differently: %s vs %s", h1, h2)
		}
		if !w1 || w2 {
			t.Errorf("written = %v, %v; want true, false", w1, w2)
		}
		if backing.Len() != before {
			t.Errorf("dedup write changed record count %d -> %d", before, backing.Len())
		}
	}
}

func TestStore_ShardSizeSmallerThanThreshold(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := New(backing, Config{MaxValueSize: 10, ShardSize: 4})

	payload := payloadOf(11)
	h, _, err := s.Put(ctx, payload)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if backing.Len() != 1+3 {
		t.Errorf("records = %d, want 4", backing.Len())
	}
	got, err := s.Read(ctx, h)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Read() = %v, %v", got, err)
	}
}

func TestStore_MissingShard(t *testing.T) {
	for _, lost := range []int{0, 1, 2} {
		ctx := context.Background()
		backing := kv.NewMemory()
		s := New(backing, Config{MaxValueSize: 4})

		h, _, _ := s.Put(ctx, payloadOf(10))
		_ = backing.Delete(ctx, h.shardKey(lost))

		if _, err := s.Read(ctx, h); !errors.Is(err, ErrNotFound) {
			t.Errorf("shard %d lost: Read() error = %v, want ErrNotFound", lost, err)
		}
		if ok, err := s.Has(ctx, h); err != nil || ok {
			t.Errorf("shard %d lost: Has() = %v, %v; want false", lost, ok, err)
		}

		// A rewrite heals the entry.
		if _, written, err := s.Put(ctx, payloadOf(10)); err != nil || !written {
			t.Errorf("shard %d lost: Put() = %v, %v; want a physical write", lost, written, err)
		}
		if got, err := s.Read(ctx, h); err != nil || !bytes.Equal(got, payloadOf(10)) {
			t.Errorf("shard %d lost: Read() after heal = %v, %v", lost, got, err)
		}
	}
}

func TestStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := New(backing, Config{})

	h := Sum([]byte("x"))
	_ = backing.Write(ctx, string(h), []byte("?garbage"))
	if _, err := s.Read(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Read(unknown tag) error = %v, want ErrCorrupt", err)
	}

	_ = backing.Write(ctx, string(h), nil)
	if _, err := s.Read(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Read(empty) error = %v, want ErrCorrupt", err)
	}

	small := New(backing, Config{MaxValueSize: 2})
	_ = backing.Write(ctx, string(h), []byte{tagSentinel, 2, 4})
	_ = backing.Write(ctx, h.shardKey(0), []byte{tagShard, 1, 2})
	_ = backing.Write(ctx, h.shardKey(1), []byte{tagBlob, 3, 4})
	if _, err := small.Read(ctx, h); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Read(bad shard tag) error = %v, want ErrCorrupt", err)
	}
}

func TestStore_CorruptSentinel(t *testing.T) {
	sentinel := func(count, size uint64) []byte {
		rec := []byte{tagSentinel}
		rec = binary.AppendUvarint(rec, count)
		return binary.AppendUvarint(rec, size)
	}
	tests := []struct {
		name   string
		head   []byte
		shards [][]byte
		has    bool
	}{
		{"size beyond int", sentinel(1, 1<<63), [][]byte{{tagShard, 1}}, false},
		{"max uint64 size", sentinel(3, ^uint64(0)), nil, false},
		{"zero count", sentinel(0, 10), nil, false},
		{"more shards than bytes", sentinel(20, 10), nil, false},
		{"shards larger than max value size", sentinel(2, 100), nil, false},
		{"size fits one record", sentinel(1, 3), [][]byte{{tagShard, 1, 2, 3}}, false},
		{"truncated", []byte{tagSentinel, 0x80}, nil, false},
		{"shards longer than size", sentinel(3, 10), [][]byte{
			{tagShard, 1, 2, 3, 4}, {tagShard, 1, 2, 3, 4}, {tagShard, 1, 2, 3, 4},
		}, true}, // Has does not read shard bytes.
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backing := kv.NewMemory()
			s := New(backing, Config{MaxValueSize: 4})
			h := Sum([]byte(tt.name))
			_ = backing.Write(ctx, string(h), tt.head)
			for i, shard := range tt.shards {
				_ = backing.Write(ctx, h.shardKey(i), shard)
			}

			if _, err := s.Read(ctx, h); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Read() error = %v, want ErrCorrupt", err)
			}
			if ok, err := s.Has(ctx, h); err != nil || ok != tt.has {
				t.Errorf("Has() = %v, %v; want %v", ok, err, tt.has)
			}
		})
	}
}

func TestStore_ReadMissing(t *testing.T) {
	s := New(kv.NewMemory(), Config{})
	if _, err := s.Read(context.Background(), Sum(nil)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestStore_WriteInvalidHash(t *testing.T) {
	s := New(kv.NewMemory(), Config{})
	if _, err := s.Write(context.Background(), "nope", nil); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("Write() error = %v, want ErrInvalidHash", err)
	}
}

func TestStore_DeleteAndListing(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := New(backing, Config{MaxValueSize: 4})

	small, _, _ := s.Put(ctx, payloadOf(2))
	big, _, _ := s.Put(ctx, payloadOf(13))

	hashes, err := s.Hashes(ctx)
	if err != nil {
		t.Fatalf("Hashes() error = %v", err)
	}
	if len(hashes) != 2 {
		t.Errorf("Hashes() = %v, want 2 heads", hashes)
	}

	if err := s.Delete(ctx, big); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if backing.Len() != 1 {
		t.Errorf("records after Delete = %d, want 1", backing.Len())
	}
	if ok, _ := s.Has(ctx, small); !ok {
		t.Error("Delete removed an unrelated entry")
	}
	if err := s.Delete(ctx, big); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStore_OrphanShards(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	s := New(backing, Config{MaxValueSize: 4})

	h, _, _ := s.Put(ctx, payloadOf(9))
	_ = backing.Delete(ctx, string(h))

	orphans, err := s.OrphanShards(ctx)
	if err != nil {
		t.Fatalf("OrphanShards() error = %v", err)
	}
	if len(orphans) != 1 || orphans[0] != h {
		t.Fatalf("OrphanShards() = %v, want [%s]", orphans, h)
	}
	if err := s.DeleteShards(ctx, h); err != nil {
		t.Fatalf("DeleteShards() error = %v", err)
	}
	if backing.Len() != 0 {
		t.Errorf("records after DeleteShards = %d, want 0", backing.Len())
	}
}

func TestStore_RequiresListerForHashes(t *testing.T) {
	s := New(storeOnly{kv.NewMemory()}, Config{})
	if _, err := s.Hashes(context.Background()); !errors.Is(err, kv.ErrNotListable) {
		t.Errorf("Hashes() error = %v, want ErrNotListable", err)
	}
}

type storeOnly struct {
	kv.Store
}
