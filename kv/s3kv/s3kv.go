// Package s3kv implements kv.Store on an S3-compatible bucket via minio-go.
//
// Every key is one object under an optional prefix. Object PUTs are atomic,
// which satisfies the single-write atomicity of kv.Store.
package s3kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonwraymond/tokencache/kv"
)

// Config configures an S3 store.
type Config struct {
	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint string

	// Bucket holding the objects. Required.
	Bucket string

	// AccessKey and SecretKey authenticate with static V4 credentials.
	AccessKey string
	SecretKey string

	// UseSSL enables HTTPS.
	UseSSL bool

	// Prefix namespaces every object key.
	Prefix string

	// CreateBucket makes the bucket when it does not exist.
	CreateBucket bool

	// Client overrides the connection fields above.
	Client *minio.Client
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return errors.New("s3kv: bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("s3kv: endpoint is required when client is not provided")
	}
	return nil
}

// Store is a kv.Store over an S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New builds the client and optionally ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3kv: create client: %w", err)
		}
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3kv: check bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
			if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
				return nil, fmt.Errorf("s3kv: make bucket %s: %w", cfg.Bucket, err)
			}
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *Store) object(key string) string {
	return s.prefix + key
}

// translate maps S3 error codes onto kv errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return kv.ErrNotFound
	}
	return fmt.Errorf("s3kv: %w", err)
}

func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.object(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return translate(err)
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := translate(s.client.RemoveObject(ctx, s.bucket, s.object(key), minio.RemoveObjectOptions{}))
	if kv.IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.object(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = translate(err); kv.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.object(prefix),
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, translate(info.Err)
		}
		keys = append(keys, strings.TrimPrefix(info.Key, s.prefix))
	}
	return keys, nil
}

// Close is a no-op; the minio client holds no persistent connection state.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements kv.ListStore
var _ kv.ListStore = (*Store)(nil)
