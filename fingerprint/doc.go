// Package fingerprint derives the stable identity of a memoized call.
//
// A call is identified by the function's qualified name, its arguments bound
// against the declared parameter list (defaults applied, receiver dropped for
// methods), and the static metadata attached at registration. The identity
// is a 128-bit digest of a canonical JSON encoding of those three parts, so
// it does not depend on argument order at the call site or on map iteration
// order.
package fingerprint
