// Package token tracks upstream data versions.
//
// Every upstream source is a Segment whose Token is the time it last
// changed. A memoized function registers a Tag (a set of segments); its
// latest token is the maximum over its own segments and the process-wide
// global segments. A cached value computed before that token is stale.
package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshInterval bounds how stale the registry's view may be.
const DefaultRefreshInterval = 5 * time.Second

// Config configures a Registry.
type Config struct {
	// RefreshInterval is the maximum age of the cached view. Default: 5s
	RefreshInterval time.Duration

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Registry maps functions to tags and tags to their latest token.
//
// Contract:
// - Concurrency: safe for concurrent use. Readers of a fresh view take no
// lock beyond an atomic load.
// - Staleness: a token upserted by another process is visible within
// RefreshInterval. Updates made through this Registry are visible at once.
// - Errors: a failed refresh is returned to the caller; the next call
// retries. A view older than RefreshInterval is never served.
type Registry struct {
	source   Source
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	apis    map[string]Tag
	globals Tag

	view  atomic.Pointer[view]
	group singleflight.Group

	// local holds updates made through this registry, so a refresh that
	// raced with them does not roll them back. localMu also serializes every
	// store of the view.
	localMu  sync.Mutex
	local    map[Segment]localUpdate
	localSeq uint64
}

// localUpdate is pending while its upsert runs (zero at), then stamped with
// the time the upsert returned.
type localUpdate struct {
	token time.Time
	at    time.Time
	seq   uint64
}

type view struct {
	tokens   map[Segment]time.Time
	loadedAt time.Time
}

// NewRegistry creates a registry over source.
func NewRegistry(source Source, cfg Config) (*Registry, error) {
	if source == nil {
		return nil, errors.New("token: source is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		source:   source,
		interval: cfg.RefreshInterval,
		now:      cfg.Now,
		apis:     make(map[string]Tag),
		local:    make(map[Segment]localUpdate),
	}, nil
}

// Register associates api with tag, replacing any earlier registration.
// Placeholder inside a segment is replaced by api.
func (r *Registry) Register(api string, tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[api] = tag.Expand(api)
}

// AddGlobal adds segments that apply to every registered function. Globals
// cannot be removed.
func (r *Registry) AddGlobal(segs ...Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals = r.globals.Union(NewTag(segs...))
}

// Globals returns the global segments.
func (r *Registry) Globals() Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globals
}

// Resolve returns the tag of api joined with the globals. It reports false
// when api is unregistered or resolves to no segment at all.
func (r *Registry) Resolve(api string) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.apis[api]
	if !ok {
		return Tag{}, false
	}
	tag = tag.Union(r.globals)
	return tag, tag.Len() > 0
}

// APIs lists the registered function identities.
func (r *Registry) APIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.apis))
	for api := range r.apis {
		out = append(out, api)
	}
	return out
}

// Latest returns the latest token for api. It reports false when api is not
// registered. A registered function whose segments were never updated gets
// the zero time.
func (r *Registry) Latest(ctx context.Context, api string) (time.Time, bool, error) {
	tag, ok := r.Resolve(api)
	if !ok {
		return time.Time{}, false, nil
	}
	latest, err := r.LatestTag(ctx, tag)
	if err != nil {
		return time.Time{}, true, err
	}
	return latest, true, nil
}

// LatestTag returns the maximum token over the segments of tag, or the zero
// time when none was ever updated.
func (r *Registry) LatestTag(ctx context.Context, tag Tag) (time.Time, error) {
	v, err := r.current(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, seg := range tag.segs {
		if t, ok := v.tokens[seg]; ok && t.After(latest) {
			latest = t
		}
	}
	return latest, nil
}

// Update sets the token of seg. The local view reflects it immediately.
func (r *Registry) Update(ctx context.Context, seg Segment, t time.Time) error {
	r.localMu.Lock()
	r.localSeq++
	seq := r.localSeq
	r.local[seg] = localUpdate{token: t, seq: seq}
	r.localMu.Unlock()

	err := r.source.Upsert(ctx, seg, Record{Token: t})

	r.localMu.Lock()
	defer r.localMu.Unlock()
	mine := r.local[seg].seq == seq
	if err != nil {
		if mine {
			delete(r.local, seg)
		}
		return err
	}
	if mine {
		r.local[seg] = localUpdate{token: t, at: r.now(), seq: seq}
	}
	if old := r.view.Load(); old != nil {
		tokens := make(map[Segment]time.Time, len(old.tokens)+1)
		for k, v := range old.tokens {
			tokens[k] = v
		}
		if mine {
			tokens[seg] = t
		}
		r.view.Store(&view{tokens: tokens, loadedAt: old.loadedAt})
	}
	return nil
}

// Notify marks every segment of tag as changed now.
func (r *Registry) Notify(ctx context.Context, tag Tag) (time.Time, error) {
	now := r.now()
	var errs []error
	for _, seg := range tag.segs {
		if err := r.Update(ctx, seg, now); err != nil {
			errs = append(errs, err)
		}
	}
	return now, errors.Join(errs...)
}

// Snapshot reads every segment token straight from the source.
func (r *Registry) Snapshot(ctx context.Context) (map[Segment]time.Time, error) {
	records, err := r.source.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Segment]time.Time, len(records))
	for seg, rec := range records {
		out[seg] = rec.Token
	}
	return out, nil
}

// ViewAge returns how old the cached view is, and false before the first
// successful refresh.
func (r *Registry) ViewAge() (time.Duration, bool) {
	v := r.view.Load()
	if v == nil {
		return 0, false
	}
	return r.now().Sub(v.loadedAt), true
}

// RefreshInterval returns the configured view lifetime.
func (r *Registry) RefreshInterval() time.Duration {
	return r.interval
}

// Refresh reloads the view from the source now.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err := r.refresh(ctx)
	return err
}

func (r *Registry) current(ctx context.Context) (*view, error) {
	if v := r.view.Load(); v != nil && r.now().Sub(v.loadedAt) < r.interval {
		return v, nil
	}
	return r.refresh(ctx)
}

// refresh loads the view once for all concurrent callers. The load is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (r *Registry) refresh(ctx context.Context) (*view, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		started := r.now()
		records, err := r.source.FindAll(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		tokens := make(map[Segment]time.Time, len(records))
		for seg, rec := range records {
			tokens[seg] = rec.Token
		}
		r.localMu.Lock()
		defer r.localMu.Unlock()
		for seg, u := range r.local {
			// An upsert that returned before the load started is in records.
			if !u.at.IsZero() && u.at.Before(started) {
				delete(r.local, seg)
				continue
			}
			tokens[seg] = u.token
		}
		v := &view{tokens: tokens, loadedAt: started}
		r.view.Store(v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*view), nil
	}
}
