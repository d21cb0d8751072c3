package memo

import (
	"context"
	"errors"
	"time"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/fingerprint"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/token"
)

// Option configures a Func.
type Option[R any] func(*Func[R])

// WithCodec overrides the result codec.
func WithCodec[R any](c Codec[R]) Option[R] {
	return func(f *Func[R]) { f.codec = c }
}

// Func is a memoized function.
//
// Concurrent calls with equal arguments in one process share a single
// computation and receive the same result value.
type Func[R any] struct {
	m     *Manager
	sig   fingerprint.Signature
	api   string
	fn    func(context.Context, fingerprint.Args) (R, error)
	codec Codec[R]
}

// callInfo is the per-call context shared by the state machine steps.
type callInfo struct {
	api  string
	key  string
	meta observe.CallMeta
}

type result[R any] struct {
	value   R
	outcome Outcome
}

// Wrap memoizes fn under sig and registers tag for it. Placeholder segments
// of tag are expanded to the function identity. An empty tag leaves the
// function cached only through global segments, or not at all.
func Wrap[R any](m *Manager, sig fingerprint.Signature, tag token.Tag, fn func(context.Context, fingerprint.Args) (R, error), opts ...Option[R]) (*Func[R], error) {
	if m == nil || fn == nil {
		return nil, errors.New("memo: manager and function are required")
	}
	if sig.Name == "" {
		return nil, errors.New("memo: signature name is required")
	}
	f := &Func[R]{m: m, sig: sig, api: sig.Identity(), fn: fn}
	for _, opt := range opts {
		opt(f)
	}
	if f.codec == nil {
		c, err := defaultCodec[R](m.cfg.Codec)
		if err != nil {
			return nil, err
		}
		f.codec = c
	}
	m.registry.Register(f.api, tag)
	return f, nil
}

// API returns the function identity used for registration and metrics.
func (f *Func[R]) API() string { return f.api }

// Key returns the cache key of a call.
func (f *Func[R]) Key(args []any, kwargs map[string]any) (fingerprint.Key, error) {
	key, _, err := f.m.fp.Key(f.sig, args, kwargs)
	return key, err
}

// Call runs the function through the cache.
func (f *Func[R]) Call(ctx context.Context, args []any, kwargs map[string]any) (R, error) {
	v, _, err := f.CallWithOutcome(ctx, args, kwargs)
	return v, err
}

// Invalidate deletes the metadata of one call so the next call is a miss.
func (f *Func[R]) Invalidate(ctx context.Context, args []any, kwargs map[string]any) error {
	key, err := f.Key(args, kwargs)
	if err != nil {
		return err
	}
	return f.m.Purge(ctx, key)
}

// CallWithOutcome runs the function through the cache and reports how the
// call was served.
func (f *Func[R]) CallWithOutcome(ctx context.Context, args []any, kwargs map[string]any) (R, Outcome, error) {
	var zero R
	if err := ctx.Err(); err != nil {
		return zero, Bypass, err
	}

	bound, err := f.sig.Bind(args, kwargs)
	if err != nil {
		return zero, Bypass, err
	}
	call := callInfo{api: f.api, meta: observe.CallMeta{API: f.api}}
	if !f.m.active(ctx) {
		return f.direct(ctx, bound, Bypass)
	}
	tag, registered := f.m.registry.Resolve(f.api)
	if !registered {
		return f.direct(ctx, bound, Bypass)
	}
	call.meta.Segments = segmentStrings(tag)

	var out result[R]
	exec := f.m.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (string, error) {
		var err error
		out, err = f.cached(ctx, call, args, kwargs, bound)
		return out.outcome.String(), err
	})
	_, err = exec(ctx, call.meta)
	return out.value, out.outcome, err
}

func (f *Func[R]) direct(ctx context.Context, bound fingerprint.Args, o Outcome) (R, Outcome, error) {
	v, err := f.fn(ctx, bound)
	if err != nil {
		return v, o, &CallError{API: f.api, Err: err}
	}
	return v, o, nil
}

// cached resolves the key and runs the state machine once per key across
// concurrent callers.
func (f *Func[R]) cached(ctx context.Context, call callInfo, args []any, kwargs map[string]any, bound fingerprint.Args) (result[R], error) {
	key, _, err := f.m.fp.Key(f.sig, args, kwargs)
	if err != nil {
		f.m.fault(ctx, call, "fingerprint", err)
		v, o, err := f.direct(ctx, bound, Fallback)
		return result[R]{v, o}, err
	}
	call.key = key.String()

	// The shared pass outlives any one caller; each caller stops waiting
	// when its own ctx ends.
	ch := f.m.flight.DoChan(call.key, func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = &panicError{value: p}
			}
		}()
		return f.run(context.WithoutCancel(ctx), call, bound)
	})
	select {
	case <-ctx.Done():
		return result[R]{outcome: Fallback}, ctx.Err()
	case res := <-ch:
		var pe *panicError
		if errors.As(res.Err, &pe) {
			panic(pe.value)
		}
		r, _ := res.Val.(result[R])
		return r, res.Err
	}
}

// panicError carries a panic of the wrapped function out of the shared pass
// so it is raised again in every waiting caller.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return "memo: wrapped function panicked" }

// run is one pass of the invalidation state machine.
func (f *Func[R]) run(ctx context.Context, call callInfo, bound fingerprint.Args) (result[R], error) {
	m := f.m
	latest, _, err := m.registry.Latest(ctx, f.api)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result[R]{outcome: Fallback}, ctxErr
		}
		m.fault(ctx, call, "registry.latest", err)
		return f.fallback(ctx, bound)
	}

	md, err := m.meta.Get(ctx, call.key)
	switch {
	case errors.Is(err, meta.ErrNotFound):
		return f.compute(ctx, call, bound, latest, nil)
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result[R]{outcome: Fallback}, ctxErr
		}
		m.fault(ctx, call, "meta.get", err)
		m.dropMeta(ctx, call)
		return f.fallback(ctx, bound)
	}

	if m.forcedOutdated() || md.Token.Before(latest) {
		return f.compute(ctx, call, bound, latest, &md)
	}
	return f.fresh(ctx, call, bound, md)
}

// fresh serves a fresh entry, or runs the corruption bookkeeping when its
// payload is gone.
func (f *Func[R]) fresh(ctx context.Context, call callInfo, bound fingerprint.Args, md meta.Meta) (result[R], error) {
	m := f.m
	payload, err := m.content.Read(ctx, md.Hash)
	switch {
	case err == nil:
		v, err := f.codec.Decode(payload)
		if err != nil {
			m.fault(ctx, call, "decode", err)
			m.dropMeta(ctx, call)
			return f.fallback(ctx, bound)
		}
		if !md.FailureTime.IsZero() {
			if err := m.meta.ClearFailure(ctx, call.key); err != nil {
				m.fault(ctx, call, "meta.clear_failure", err)
			}
		}
		return result[R]{v, Hit}, nil

	case errors.Is(err, content.ErrNotFound):
		o := m.missingPayload(ctx, call, md)
		v, o, err := f.direct(ctx, bound, o)
		return result[R]{v, o}, err

	case errors.Is(err, content.ErrCorrupt):
		m.logger.WithCall(call.meta).Warn(ctx, "cached payload is corrupt, purging",
			observe.Field{Key: "key", Value: call.key},
			observe.Field{Key: "hash", Value: string(md.Hash)},
			observe.Field{Key: "error", Value: err})
		m.purgeEntry(ctx, call, md.Hash)
		v, o, err := f.direct(ctx, bound, Corrupted)
		return result[R]{v, o}, err

	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result[R]{outcome: Fallback}, ctxErr
		}
		m.fault(ctx, call, "content.read", err)
		return f.fallback(ctx, bound)
	}
}

// missingPayload records the first failure, or purges the entry once the
// failure is older than the grace period.
func (m *Manager) missingPayload(ctx context.Context, call callInfo, md meta.Meta) Outcome {
	log := m.logger.WithCall(call.meta)
	fields := []observe.Field{
		{Key: "key", Value: call.key},
		{Key: "hash", Value: string(md.Hash)},
	}

	if md.FailureTime.IsZero() {
		if _, err := m.meta.MarkFailure(ctx, call.key, m.now()); err != nil && !errors.Is(err, meta.ErrNotFound) {
			m.fault(ctx, call, "meta.mark_failure", err)
		}
		log.Warn(ctx, ErrCacheDataNotFound.Error(), fields...)
		return NotFound
	}

	age := m.now().Sub(md.FailureTime)
	if age <= m.cfg.CorruptionGrace {
		log.Warn(ctx, ErrCacheDataNotFound.Error(), append(fields, observe.Field{Key: "failing_for", Value: age.String()})...)
		return NotFound
	}
	log.Warn(ctx, ErrCacheCorrupted.Error(), append(fields, observe.Field{Key: "failing_for", Value: age.String()})...)
	m.purgeEntry(ctx, call, md.Hash)
	return Corrupted
}

// compute runs the function and persists its result. prev is nil on a miss.
func (f *Func[R]) compute(ctx context.Context, call callInfo, bound fingerprint.Args, latest time.Time, prev *meta.Meta) (result[R], error) {
	m := f.m
	v, err := f.fn(ctx, bound)
	outcome := Miss
	if prev != nil {
		outcome = Changed
	}
	if err != nil {
		return result[R]{v, outcome}, &CallError{API: f.api, Err: err}
	}

	payload, err := f.codec.Encode(v)
	if err != nil {
		m.fault(ctx, call, "encode", err)
		m.dropMeta(ctx, call)
		return result[R]{v, Fallback}, nil
	}
	h := content.Sum(payload)

	job := writeJob{
		call:    call,
		key:     call.key,
		md:      meta.Meta{Token: latest, Hash: h, API: f.api},
		payload: payload,
	}
	if prev != nil && prev.Hash == h {
		// Content.Write skips the payload when it is still stored.
		outcome = Unchanged
	}

	if !m.persist(ctx, job) {
		return result[R]{v, Fallback}, nil
	}
	m.logger.WithCall(call.meta).Debug(ctx, "stored result",
		observe.Field{Key: "key", Value: call.key},
		observe.Field{Key: "outcome", Value: outcome.String()},
		observe.Field{Key: "latest", Value: latest})
	return result[R]{v, outcome}, nil
}

func (f *Func[R]) fallback(ctx context.Context, bound fingerprint.Args) (result[R], error) {
	v, o, err := f.direct(ctx, bound, Fallback)
	return result[R]{v, o}, err
}

// persist writes job now or queues it. It reports false when a synchronous
// write failed.
func (m *Manager) persist(ctx context.Context, job writeJob) bool {
	if m.queue != nil && m.queue.enqueue(job) {
		return true
	}
	return m.write(ctx, job) == nil
}

func (m *Manager) persistQueued(ctx context.Context, job writeJob) {
	_ = m.write(ctx, job)
}

// write stores the payload before the metadata that references it.
func (m *Manager) write(ctx context.Context, job writeJob) error {
	if _, err := m.content.Write(ctx, job.md.Hash, job.payload); err != nil {
		m.fault(ctx, job.call, "content.write", err)
		m.dropMeta(ctx, job.call)
		return err
	}
	if err := m.meta.Put(ctx, job.key, job.md); err != nil {
		m.fault(ctx, job.call, "meta.put", err)
		m.dropMeta(ctx, job.call)
		return err
	}
	return nil
}

// fault records a store fault absorbed by the cache.
func (m *Manager) fault(ctx context.Context, call callInfo, op string, err error) {
	m.mw.Metrics().RecordStoreError(ctx, call.meta, op)
	m.logger.WithCall(call.meta).Error(ctx, "cache fault, computing directly",
		observe.Field{Key: "key", Value: call.key},
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "error", Value: err})
}

// dropMeta removes possibly inconsistent metadata, best effort.
func (m *Manager) dropMeta(ctx context.Context, call callInfo) {
	if call.key == "" {
		return
	}
	if err := m.meta.Delete(ctx, call.key); err != nil {
		m.logger.WithCall(call.meta).Debug(ctx, "dropping metadata failed",
			observe.Field{Key: "key", Value: call.key},
			observe.Field{Key: "error", Value: err})
	}
}

// purgeEntry deletes the metadata and the remains of its payload so that the
// next write of the same payload is not skipped by deduplication.
func (m *Manager) purgeEntry(ctx context.Context, call callInfo, h content.Hash) {
	m.dropMeta(ctx, call)
	if err := m.content.Delete(ctx, h); err != nil {
		m.fault(ctx, call, "content.delete", err)
	}
}

func segmentStrings(tag token.Tag) []string {
	segs := tag.Segments()
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = string(s)
	}
	return out
}
