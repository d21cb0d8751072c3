package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func keyRequest(key string) *Request {
	h := http.Header{}
	if key != "" {
		h.Set(DefaultAPIKeyHeader, key)
	}
	return &Request{Headers: h}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	keys := NewKeySet()
	if err := keys.AddSecret("ops", "s3cr3t", "ops-bot", RoleWriter); err != nil {
		t.Fatal(err)
	}
	if err := keys.Add(APIKey{ID: "old", Hash: HashAPIKey("stale"), Principal: "old", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	a := NewAPIKeyAuthenticator("", keys)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		wantOK  bool
		wantErr error
	}{
		{"valid", "s3cr3t", true, nil},
		{"valid with spaces", "  s3cr3t ", true, nil},
		{"unknown", "guess", false, ErrInvalidCredentials},
		{"expired", "stale", false, ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := keyRequest(tt.key)
			if !a.Supports(ctx, req) {
				t.Fatal("Supports() = false")
			}
			res, err := a.Authenticate(ctx, req)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if res.Authenticated != tt.wantOK || !errors.Is(res.Err, tt.wantErr) {
				t.Fatalf("result = %+v", res)
			}
			if tt.wantOK && (res.Identity.Principal != "ops-bot" || !res.Identity.HasRole(RoleWriter) || res.Identity.Claims["key_id"] != "ops") {
				t.Errorf("identity = %+v", res.Identity)
			}
		})
	}

	if a.Supports(ctx, keyRequest("")) {
		t.Error("Supports() without header = true")
	}
}

func TestKeySet(t *testing.T) {
	keys := NewKeySet()
	if err := keys.AddSecret("x", " ", "p"); err == nil {
		t.Error("blank secret accepted")
	}
	if err := keys.Add(APIKey{Hash: "short"}); err == nil {
		t.Error("malformed hash accepted")
	}
	_ = keys.AddSecret("x", "k", "p")
	if keys.Len() != 1 {
		t.Fatalf("Len() = %d", keys.Len())
	}
	keys.Remove(HashAPIKey("k"))
	if keys.Len() != 0 {
		t.Errorf("Len() after Remove = %d", keys.Len())
	}
}
