package natskv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/tokencache/kv"
)

func TestEncodeKey_RoundTrip(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"c/0123abcd", "c/0123abcd"},
		{"t/calendar", "t/calendar"},
		{"t/a.b", "t/a=2Eb"},
		{"t/x;y", "t/x=3By"},
		{"eq=", "eq=3D"},
		{"sp ace", "sp=20ace"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := EncodeKey(tt.key)
			assert.Equal(t, tt.want, got)
			back, err := DecodeKey(got)
			require.NoError(t, err)
			assert.Equal(t, tt.key, back)
		})
	}
}

func TestDecodeKey_Malformed(t *testing.T) {
	for _, s := range []string{"a=", "a=4", "a=ZZ"} {
		_, err := DecodeKey(s)
		assert.Error(t, err, s)
	}
}

// TestStore_Integration runs against a live JetStream server.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("TOKENCACHE_NATS_URL")
	if url == "" {
		t.Skip("TOKENCACHE_NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, Config{URL: url, Bucket: "tokencache_test"})
	require.NoError(t, err)
	defer s.Close()

	key := "t/seg.with;chars"
	require.NoError(t, s.Write(ctx, key, []byte("v")))
	got, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	keys, err := s.Keys(ctx, "t/")
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Read(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	ok, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
