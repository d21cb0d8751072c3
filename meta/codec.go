package meta

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/jonwraymond/tokencache/content"
)

// Field numbers of the wire form.
const (
	fieldToken       protowire.Number = 1
	fieldHash        protowire.Number = 2
	fieldFailureTime protowire.Number = 3
	fieldAPI         protowire.Number = 4
)

// ErrCorrupt means a stored record cannot be decoded.
var ErrCorrupt = errors.New("meta: record is corrupt")

// Marshal encodes m as a protobuf message:
//
//	message Meta {
//	  google.protobuf.Timestamp token = 1;
//	  string hash = 2;
//	  google.protobuf.Timestamp failure_time = 3; // absent when unset
//	  string api = 4;
//	}
func Marshal(m Meta) ([]byte, error) {
	var b []byte
	var err error

	if b, err = appendTimestamp(b, fieldToken, m.Token); err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendString(b, string(m.Hash))
	if !m.FailureTime.IsZero() {
		if b, err = appendTimestamp(b, fieldFailureTime, m.FailureTime); err != nil {
			return nil, err
		}
	}
	if m.API != "" {
		b = protowire.AppendTag(b, fieldAPI, protowire.BytesType)
		b = protowire.AppendString(b, m.API)
	}
	return b, nil
}

func appendTimestamp(b []byte, num protowire.Number, t time.Time) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, fmt.Errorf("meta: encode timestamp: %w", err)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts), nil
}

// Unmarshal decodes the form produced by Marshal. Unknown fields are
// skipped.
func Unmarshal(b []byte) (Meta, error) {
	var m Meta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		known := typ == protowire.BytesType &&
			(num == fieldToken || num == fieldHash || num == fieldFailureTime || num == fieldAPI)
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldToken, fieldFailureTime:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if err := ts.CheckValid(); err != nil {
				return Meta{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			if num == fieldToken {
				m.Token = ts.AsTime()
			} else {
				m.FailureTime = ts.AsTime()
			}
		case fieldHash:
			m.Hash = content.Hash(v)
		case fieldAPI:
			m.API = string(v)
		}
	}
	return m, nil
}
