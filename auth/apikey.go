package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultAPIKeyHeader carries API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is one registered key. Only the SHA-256 of the secret is kept.
type APIKey struct {
	ID        string
	Hash      string
	Principal string
	Roles     []string
	ExpiresAt time.Time
}

// HashAPIKey returns the stored form of a key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeySet holds the registered API keys.
type KeySet struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{keys: map[string]APIKey{}}
}

// AddSecret registers the plain key secret for principal.
func (s *KeySet) AddSecret(id, secret, principal string, roles ...string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("auth: empty api key")
	}
	return s.Add(APIKey{ID: id, Hash: HashAPIKey(secret), Principal: principal, Roles: roles})
}

// Add registers key by its hash.
func (s *KeySet) Add(key APIKey) error {
	if len(key.Hash) != sha256.Size*2 {
		return errors.New("auth: api key hash must be hex sha256")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Hash] = key
	return nil
}

// Remove drops the key with the given hash.
func (s *KeySet) Remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, hash)
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// lookup compares against every stored hash in constant time per entry.
func (s *KeySet) lookup(hash string) (APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found APIKey
		ok    bool
	)
	for h, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			found, ok = k, true
		}
	}
	return found, ok
}

// APIKeyAuthenticator validates keys sent in a header.
type APIKeyAuthenticator struct {
	header string
	keys   *KeySet
	now    func() time.Time
}

// NewAPIKeyAuthenticator creates an authenticator over keys. An empty header
// means DefaultAPIKeyHeader.
func NewAPIKeyAuthenticator(header string, keys *KeySet) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, keys: keys, now: time.Now}
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string { return string(MethodAPIKey) }

func (a *APIKeyAuthenticator) Supports(_ context.Context, req *Request) bool {
	return req.Header(a.header) != ""
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, req *Request) (*Result, error) {
	secret := strings.TrimSpace(req.Header(a.header))
	if secret == "" {
		return Failure(ErrMissingCredentials, MethodAPIKey), nil
	}
	key, ok := a.keys.lookup(HashAPIKey(secret))
	if !ok {
		return Failure(ErrInvalidCredentials, MethodAPIKey), nil
	}
	id := &Identity{
		Principal: key.Principal,
		Roles:     key.Roles,
		Method:    MethodAPIKey,
		ExpiresAt: key.ExpiresAt,
		Claims:    map[string]any{"key_id": key.ID},
	}
	if id.Expired(a.now()) {
		return Failure(ErrTokenExpired, MethodAPIKey), nil
	}
	return Success(id), nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
