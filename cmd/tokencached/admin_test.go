package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/tokencache/auth"
	"github.com/jonwraymond/tokencache/config"
	"github.com/jonwraymond/tokencache/health"
	"github.com/jonwraymond/tokencache/observe"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, authCfg config.AuthConfig) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = "memory"

	stores, err := config.Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	registry, err := config.NewRegistry(cfg, stores)
	require.NoError(t, err)
	sweeper, err := config.NewSweeper(cfg, stores, nil)
	require.NoError(t, err)
	guard, err := config.NewGuard(authCfg)
	require.NoError(t, err)

	checks := health.NewAggregator(health.AggregatorConfig{})
	checks.Register(health.NewStoreChecker("store", stores.Root, ""))
	checks.Register(health.NewRegistryChecker(registry))

	api := &adminAPI{registry: registry, sweeper: sweeper, logger: observe.NopLogger(), now: func() time.Time { return fixedNow }}
	srv := httptest.NewServer(api.routes(guard, checks, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestSegments(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/segments/prices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "prices", body["segment"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), body["token"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/segments/calendar?at=2026-01-02T03:04:05Z", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/segments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	segs, ok := body["segments"].([]any)
	require.True(t, ok)
	require.Len(t, segs, 2)
	first := segs[0].(map[string]any)
	assert.Equal(t, "calendar", first["segment"])
	assert.Equal(t, "2026-01-02T03:04:05Z", first["token"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/segments/prices?at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestSweep(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	resp, body := do(t, http.MethodPost, srv.URL+"/v1/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["deleted"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	for _, path := range []string{"/healthz", "/readyz", "/health", "/metrics"} {
		resp, _ := do(t, http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAdminRequiresCredentials(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{APIKeys: []config.APIKeyConfig{
		{ID: "ops", Key: "ops-key", Principal: "ops", Roles: []string{auth.RoleAdmin}},
		{ID: "dash", Key: "dash-key", Principal: "dashboard", Roles: []string{auth.RoleReader}},
	}})

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/segments/prices", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	reader := http.Header{auth.DefaultAPIKeyHeader: {"dash-key"}}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/segments", reader)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/segments/prices", reader)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := http.Header{auth.DefaultAPIKeyHeader: {"ops-key"}}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/sweep", admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health endpoints stay open.
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
