// Package natskv implements kv.Store on a NATS JetStream Key-Value bucket.
//
// JetStream KV restricts keys to [-/_=.a-zA-Z0-9]. Keys are escaped into
// that alphabet: any other byte, and '.', becomes "=XX" (hex), and '=' itself
// is escaped, so the mapping is reversible.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jonwraymond/tokencache/kv"
)

// DefaultBucket is used when Config.Bucket is empty.
const DefaultBucket = "tokencache"

// Config configures a JetStream KV store.
type Config struct {
	// URL of the NATS server. Ignored when Conn is set. Default: nats.DefaultURL
	URL string

	// Conn reuses an existing connection. The store does not close it.
	Conn *nats.Conn

	// Bucket name. Default: DefaultBucket
	Bucket string

	// MaxValueSize rejects larger values at the server. 0 means unlimited.
	MaxValueSize int32

	// Replicas of the bucket stream. Default: 1
	Replicas int
}

// Store is a kv.Store over one JetStream KV bucket.
type Store struct {
	nc     *nats.Conn
	ownsNC bool
	bucket jetstream.KeyValue
}

// New connects (unless cfg.Conn is set) and opens or creates the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	nc, owns := cfg.Conn, false
	if nc == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		var err error
		nc, err = nats.Connect(url, nats.Name("tokencache"))
		if err != nil {
			return nil, fmt.Errorf("natskv: connect %s: %w", url, err)
		}
		owns = true
	}

	bucket, err := openBucket(ctx, nc, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      1,
		MaxValueSize: cfg.MaxValueSize,
		Replicas:     cfg.Replicas,
	})
	if err != nil {
		if owns {
			nc.Close()
		}
		return nil, err
	}
	return &Store{nc: nc, ownsNC: owns, bucket: bucket}, nil
}

// openBucket returns the existing bucket or creates it, tolerating a
// concurrent creator.
func openBucket(ctx context.Context, nc *nats.Conn, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("natskv: jetstream: %w", err)
	}
	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("natskv: open bucket %s: %w", cfg.Bucket, err)
	}
	bucket, err = js.CreateKeyValue(ctx, cfg)
	if errors.Is(err, jetstream.ErrBucketExists) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("natskv: create bucket %s: %w", cfg.Bucket, err)
	}
	return bucket, nil
}

const hexDigits = "0123456789ABCDEF"

func validKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '/' || c == '_'
}

// EncodeKey maps key into the JetStream KV key alphabet.
func EncodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if validKeyByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('=')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// DecodeKey reverses EncodeKey.
func DecodeKey(s string) (string, error) {
	if !strings.Contains(s, "=") {
		return s, nil
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("natskv: truncated escape in %q", s)
		}
		hi, lo := strings.IndexByte(hexDigits, s[i+1]), strings.IndexByte(hexDigits, s[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("natskv: bad escape in %q", s)
		}
		out = append(out, byte(hi<<4|lo))
		i += 2
	}
	return string(out), nil
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.bucket.Put(ctx, EncodeKey(key), value); err != nil {
		return s.mapErr(fmt.Errorf("natskv: put %s: %w", key, err))
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, EncodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, s.mapErr(fmt.Errorf("natskv: get %s: %w", key, err))
	}
	return entry.Value(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, EncodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return s.mapErr(fmt.Errorf("natskv: delete %s: %w", key, err))
	}
	return nil
}

// Has reads the entry; JetStream KV has no cheaper existence check.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.Read(ctx, key)
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, s.mapErr(fmt.Errorf("natskv: list keys: %w", err))
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for encoded := range lister.Keys() {
		key, err := DecodeKey(encoded)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, ctx.Err()
}

// Close closes the connection when the store dialed it.
func (s *Store) Close() error {
	if s.ownsNC {
		s.nc.Close()
	}
	return nil
}

func (s *Store) mapErr(err error) error {
	if s.nc.IsClosed() {
		return fmt.Errorf("%w: %w", kv.ErrClosed, err)
	}
	return err
}

// Ensure Store implements kv.ListStore
var _ kv.ListStore = (*Store)(nil)
