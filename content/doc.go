// Package content is the content-addressed payload store.
//
// Payloads are addressed by a digest of their bytes, so identical payloads
// produced by different calls collapse into one physical entry and an entry
// never changes once written. Payloads larger than MaxValueSize are split
// into shards stored under "<hash>_<i>", with a small sentinel record at
// "<hash>" holding the shard count.
//
// Record layout: every record starts with a one byte tag.
//
//	'b' <payload>                       unsharded payload
//	'n' <uvarint count> <uvarint size>  sentinel of a sharded payload
//	's' <bytes>                         one shard
//
// Shards are written before their sentinel and deleted after it, so a
// reader that finds a sentinel finds its shards unless they were removed out
// of band.
package content
