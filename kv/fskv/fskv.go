// Package fskv implements kv.Store as one file per key on a go-billy
// filesystem.
//
// Keys are base64url encoded into file names and fanned out over 256
// directories. Writes go to a temp file that is renamed into place, so a
// reader never observes a partially written value.
package fskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jonwraymond/tokencache/kv"
)

const tmpDir = ".tmp"

// Config configures a filesystem store.
type Config struct {
	// Root directory on the local filesystem. Ignored when FS is set.
	Root string

	// FS overrides the filesystem. Tests use memfs.New().
	FS billy.Filesystem
}

// Store is a kv.Store over a billy.Filesystem.
type Store struct {
	fs billy.Filesystem
}

// New creates the store, creating the root layout if needed.
func New(_ context.Context, cfg Config) (*Store, error) {
	fs := cfg.FS
	if fs == nil {
		if cfg.Root == "" {
			return nil, errors.New("fskv: root is required")
		}
		fs = osfs.New(cfg.Root)
	}
	if err := fs.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("fskv: init root: %w", err)
	}
	return &Store{fs: fs}, nil
}

// NewMemory returns a store on an in-memory filesystem.
func NewMemory() *Store {
	s, _ := New(context.Background(), Config{FS: memfs.New()})
	return s
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func shardDir(key string) string {
	return fmt.Sprintf("%02x", xxhash.Sum64String(key)&0xff)
}

func (s *Store) pathFor(key string) string {
	return path.Join(shardDir(key), encodeKey(key))
}

func (s *Store) Write(_ context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	dir := shardDir(key)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fskv: mkdir %s: %w", dir, err)
	}

	tmp, err := s.fs.TempFile(tmpDir, "w-")
	if err != nil {
		return fmt.Errorf("fskv: temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(name)
		return fmt.Errorf("fskv: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("fskv: close %s: %w", key, err)
	}
	if err := s.fs.Rename(name, s.pathFor(key)); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("fskv: rename %s: %w", key, err)
	}
	return nil
}

func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	f, err := s.fs.Open(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, kv.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(s.pathFor(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	_, err := s.fs.Stat(s.pathFor(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Keys scans every fan-out directory. Cost is proportional to the store size.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	dirs, err := s.fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == tmpDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := s.fs.ReadDir(d.Name())
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			key, ok := decodeKey(f.Name())
			if ok && strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements kv.ListStore
var _ kv.ListStore = (*Store)(nil)
