// Package kv defines the byte-store contract every tokencache storage engine
// satisfies, plus the in-memory store and the wrappers shared by all backends.
//
// Backends live in sub-packages (boltkv, natskv, s3kv, fskv, respkv). Each one
// implements Store and Lister and is safe for concurrent use.
package kv
