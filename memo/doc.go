// Package memo memoizes side-effect-free functions whose results depend on
// upstream data versions.
//
// A Manager ties together the fingerprinter, the content and metadata
// stores and the token registry. Wrap turns a function into a Func whose
// calls are cached. Each call is classified:
//
//	Bypass     caching is off, or the function has no invalidation segment
//	Miss       no metadata for the call: compute and store
//	Unchanged  stale, recomputed to the same payload: only the token moves
//	Changed    stale, recomputed to a new payload: content and metadata written
//	Hit        fresh: served from the content store
//	NotFound   fresh, but the payload is missing: computed directly
//	Corrupted  the payload stayed missing past the grace period: metadata purged
//	Fallback   a store fault: computed directly, nothing persisted
//
// Errors returned by the wrapped function come back as *CallError and are
// never cached. Store faults never reach the caller; the call degrades to an
// uncached computation instead.
package memo
