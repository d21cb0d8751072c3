package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: an unknown ref is an error wrapping ErrNotFound.
// - Secret values are never logged.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
	Close() error
}

// EnvProvider resolves a ref as the name of an environment variable, with an
// optional prefix: secretref:env:S3_SECRET_KEY.
type EnvProvider struct {
	Prefix string
}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

func (p EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(p.Prefix + ref)
	if !ok {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, p.Prefix+ref)
	}
	return v, nil
}

func (EnvProvider) Close() error { return nil }

// FileProvider resolves a ref as a file under Dir, such as a mounted
// Kubernetes secret: secretref:file:s3/secret-key. Trailing newlines are
// trimmed. Refs may not leave Dir.
type FileProvider struct {
	Dir string
}

// Name returns "file".
func (FileProvider) Name() string { return "file" }

func (p FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	path := filepath.Join(p.Dir, clean)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %s", ErrNotFound, ref)
		}
		return "", fmt.Errorf("secret: read %s: %w", ref, err)
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

func (FileProvider) Close() error { return nil }

var (
	_ Provider = EnvProvider{}
	_ Provider = FileProvider{}
)
