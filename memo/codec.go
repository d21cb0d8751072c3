package memo

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec converts results to the bytes that are hashed and stored. Encode
// must be deterministic: equal values must produce equal bytes, or every
// stale recompute is seen as Changed.
type Codec[R any] interface {
	Encode(v R) ([]byte, error)
	Decode(b []byte) (R, error)
}

// JSONCodec encodes with encoding/json. Map keys are sorted by the encoder,
// so equal values hash equally.
type JSONCodec[R any] struct{}

func (JSONCodec[R]) Encode(v R) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[R]) Decode(b []byte) (R, error) {
	var v R
	err := json.Unmarshal(b, &v)
	return v, err
}

// GobCodec encodes with encoding/gob. It is not deterministic for values
// containing maps.
type GobCodec[R any] struct{}

func (GobCodec[R]) Encode(v R) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec[R]) Decode(b []byte) (R, error) {
	var v R
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v)
	return v, err
}

// RawCodec stores []byte results unchanged.
type RawCodec struct{}

func (RawCodec) Encode(v []byte) ([]byte, error) { return v, nil }

func (RawCodec) Decode(b []byte) ([]byte, error) { return b, nil }

// Codec names accepted by Config.Codec.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
)

// defaultCodec picks RawCodec for []byte results and the named codec
// otherwise.
func defaultCodec[R any](name string) (Codec[R], error) {
	if c, ok := any(RawCodec{}).(Codec[R]); ok {
		return c, nil
	}
	switch name {
	case "", CodecJSON:
		return JSONCodec[R]{}, nil
	case CodecGob:
		return GobCodec[R]{}, nil
	default:
		return nil, fmt.Errorf("memo: unknown codec %q", name)
	}
}

var (
	_ Codec[int]    = JSONCodec[int]{}
	_ Codec[int]    = GobCodec[int]{}
	_ Codec[[]byte] = RawCodec{}
)
