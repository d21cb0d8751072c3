package kv

import (
	"context"
	"strings"
)

// Prefixed namespaces every key of an underlying store. The content, metadata
// and token keyspaces share one physical store through distinct prefixes.
type Prefixed struct {
	store  Store
	prefix string
}

// NewPrefixed wraps store so every key is stored as prefix+key.
func NewPrefixed(store Store, prefix string) *Prefixed {
	return &Prefixed{store: store, prefix: prefix}
}

// Prefix returns the namespace prefix.
func (p *Prefixed) Prefix() string {
	return p.prefix
}

func (p *Prefixed) Write(ctx context.Context, key string, value []byte) error {
	return p.store.Write(ctx, p.prefix+key, value)
}

func (p *Prefixed) Read(ctx context.Context, key string) ([]byte, error) {
	return p.store.Read(ctx, p.prefix+key)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) Has(ctx context.Context, key string) (bool, error) {
	return p.store.Has(ctx, p.prefix+key)
}

// Keys lists keys under the namespace with the namespace prefix stripped.
// Returns ErrNotListable if the underlying store cannot enumerate keys.
func (p *Prefixed) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	keys, err := lister.Keys(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix))
	}
	return out, nil
}

// Close is a no-op: the underlying store is owned by whoever created it.
func (p *Prefixed) Close() error {
	return nil
}

// Ensure Prefixed implements ListStore
var _ ListStore = (*Prefixed)(nil)
