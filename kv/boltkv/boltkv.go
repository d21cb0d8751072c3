// Package boltkv implements kv.Store on an embedded bbolt database.
//
// It is the default single-host backend: one file, one bucket, ACID writes.
// Several goroutines may share a Store; several processes may not open the
// same file concurrently (bbolt takes an exclusive file lock), which is what
// the respkv daemon is for.
package boltkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jonwraymond/tokencache/kv"
)

// DefaultBucket is used when Config.Bucket is empty.
const DefaultBucket = "tokencache"

// Config configures a bolt store.
type Config struct {
	// Path of the database file. Required.
	Path string

	// Bucket holding every key. Default: DefaultBucket
	Bucket string

	// OpenTimeout bounds the wait for the file lock. Default: 1s
	OpenTimeout time.Duration

	// NoSync skips fsync after each commit. Faster, not crash safe.
	NoSync bool
}

// Store is a kv.Store backed by a bbolt file.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// New opens (or creates) the database at cfg.Path.
func New(_ context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("boltkv: path is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", cfg.Path, err)
	}
	db.NoSync = cfg.NoSync

	bucket := []byte(cfg.Bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltkv: create bucket %s: %w", cfg.Bucket, err)
	}

	return &Store{db: db, bucket: bucket}, nil
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	return s.mapErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	}))
}

// Read returns a copy of the value; bbolt memory is only valid inside the tx.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return kv.ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.mapErr(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	}))
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(s.bucket).Get([]byte(key)) != nil
		return nil
	})
	return found, s.mapErr(err)
}

// Keys walks the bucket from the first key with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) mapErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return kv.ErrClosed
	}
	return err
}

// Ensure Store implements kv.ListStore
var _ kv.ListStore = (*Store)(nil)
