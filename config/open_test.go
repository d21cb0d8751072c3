package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/tokencache/auth"
	"github.com/jonwraymond/tokencache/fingerprint"
	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/memo"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/token"
)

func TestOpen_KeyspacesShareOneBackend(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Store.Backend = "memory"

	s, err := Open(ctx, cfg, observe.NopLogger())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Root.(*kv.Resilient)
	assert.True(t, ok, "backend should be wrapped")

	h, _, err := s.Content.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, s.Tokens.Upsert(ctx, "prices", token.Record{Token: time.Unix(100, 0)}))

	keys, err := s.Root.Keys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ContentPrefix + string(h), TokenPrefix + "prices"}, keys)

	metaKeys, err := s.MetaKV.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, metaKeys)
}

func TestOpen_Bolt(t *testing.T) {
	cfg := Default()
	cfg.Store.URI = filepath.Join(t.TempDir(), "cache.db")
	cfg.Store.Resilience.Disabled = true

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, wrapped := s.Root.(*kv.Resilient)
	assert.False(t, wrapped)
	require.NoError(t, s.Close())
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend(context.Background(), StoreConfig{Backend: "etcd"}, 0)
	assert.ErrorIs(t, err, ErrInvalidBackend)
}

// The whole stack wired from configuration serves the segment lifecycle.
func TestManagerFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Store.Backend = "fs"
	cfg.Store.URI = t.TempDir()
	cfg.Registry.Globals = []string{"calendar"}

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	reg, err := NewRegistry(cfg, s)
	require.NoError(t, err)
	m, err := NewManager(cfg, s, reg, observe.Nop())
	require.NoError(t, err)
	defer m.Close(ctx)

	calls := 0
	f, err := memo.Wrap(m, fingerprint.Signature{Name: "Report", Params: []fingerprint.Param{fingerprint.Required("day")}}, token.Tag{},
		func(ctx context.Context, args fingerprint.Args) (string, error) {
			calls++
			return "report", nil
		})
	require.NoError(t, err)

	_, o, err := f.CallWithOutcome(ctx, []any{"mon"}, nil)
	require.NoError(t, err)
	assert.Equal(t, memo.Miss, o, "globals register every function")

	_, o, _ = f.CallWithOutcome(ctx, []any{"mon"}, nil)
	assert.Equal(t, memo.Hit, o)

	_, err = reg.Notify(ctx, token.NewTag("calendar"))
	require.NoError(t, err)
	_, o, _ = f.CallWithOutcome(ctx, []any{"mon"}, nil)
	assert.Equal(t, memo.Unchanged, o)
	assert.Equal(t, 2, calls)

	sw, err := NewSweeper(cfg, s, nil)
	require.NoError(t, err)
	st, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Referenced)
	assert.Zero(t, st.Suspected)
}

func TestNewGuard(t *testing.T) {
	open, err := NewGuard(AuthConfig{})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	open.Require(auth.ActionSweep, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sweep", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	g, err := NewGuard(AuthConfig{
		APIKeys: []APIKeyConfig{{ID: "a", Key: "k1", Principal: "ops", Roles: []string{auth.RoleAdmin}}},
		JWT:     JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
	})
	require.NoError(t, err)
	h := g.Require(auth.ActionSweep, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sweep", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sweep", nil)
	req.Header.Set(auth.DefaultAPIKeyHeader, "k1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	tok, err := auth.SignJWT([]byte("0123456789abcdef0123456789abcdef"), "bob", []string{auth.RoleReader}, time.Hour, nil)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
