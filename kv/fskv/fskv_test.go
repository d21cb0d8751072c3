package fskv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/tokencache/kv"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Read(ctx, "c/missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Write(ctx, "c/abc", []byte("first")))
	require.NoError(t, s.Write(ctx, "c/abc", []byte("second")))
	got, err := s.Read(ctx, "c/abc")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	ok, err := s.Has(ctx, "c/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "c/abc"))
	require.NoError(t, s.Delete(ctx, "c/abc"))
	ok, err = s.Has(ctx, "c/abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, k := range []string{"m/a", "m/b", "c/a", "t/x;y"} {
		require.NoError(t, s.Write(ctx, k, []byte(k)))
	}

	keys, err := s.Keys(ctx, "m/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m/a", "m/b"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_OnDisk(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "k", []byte("v")))

	again, err := New(ctx, Config{Root: root})
	require.NoError(t, err)
	got, err := again.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
