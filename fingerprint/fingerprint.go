package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnencodable marks arguments or metadata without a canonical encoding
// (channels, functions, NaN). Such calls cannot be memoized.
var ErrUnencodable = errors.New("fingerprint: value cannot be canonically encoded")

// Size of a Key in bytes.
const Size = 16

// Key is the digest identifying one call.
type Key [Size]byte

// String returns the lowercase hex form.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey parses the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return k, fmt.Errorf("fingerprint: malformed key %q", s)
	}
	copy(k[:], b)
	return k, nil
}

// Fingerprinter computes call identities.
//
// Contract:
// - Determinism: equal bound arguments produce equal keys, regardless of
// positional/named order at the call site and of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
// - Purity: no side effects.
type Fingerprinter interface {
	// Key binds the call and digests it.
	Key(sig Signature, args []any, kwargs map[string]any) (Key, Args, error)
}

// Default digests the canonical JSON of {fn, args, meta} with SHA-256 and
// keeps the first 16 bytes.
type Default struct{}

// New returns the default fingerprinter.
func New() *Default {
	return &Default{}
}

func (d *Default) Key(sig Signature, args []any, kwargs map[string]any) (Key, Args, error) {
	bound, err := sig.Bind(args, kwargs)
	if err != nil {
		return Key{}, nil, err
	}
	key, err := Digest(sig, bound)
	if err != nil {
		return Key{}, nil, err
	}
	return key, bound, nil
}

// Digest computes the key of already bound arguments.
func Digest(sig Signature, bound Args) (Key, error) {
	doc := map[string]any{
		"fn":   sig.Identity(),
		"args": map[string]any(bound),
		"meta": sig.Meta,
	}
	canonical, err := Canonical(doc)
	if err != nil {
		return Key{}, err
	}
	sum := sha256.Sum256(canonical)
	var k Key
	copy(k[:], sum[:Size])
	return k, nil
}

// Canonical returns a deterministic JSON encoding of v. Values are first
// normalized through encoding/json (so structs, typed maps and pointers
// reduce to the same tree as their JSON form), then objects are written with
// sorted keys.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		buf.Write(b)
	}
	return nil
}

// Ensure Default implements Fingerprinter
var _ Fingerprinter = (*Default)(nil)
