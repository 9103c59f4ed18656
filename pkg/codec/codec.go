// Package codec defines the wire encodings shared by the world client and the authority.
//
// Two codecs are provided: JSON (the default, human-readable) and MessagePack. Both ends of a
// connection must agree on the codec. Values that are encoded ahead of time travel as Raw, and
// ordered documents of unknown shape travel as a Field list so that key order survives a
// decode/encode cycle.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec = errors.New("codec: unknown codec")
	ErrNotDocument  = errors.New("codec: value is not a key/value document")
)

// Codec marshals protocol values.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	// MarshalFields writes an ordered key/value document.
	MarshalFields(fields []Field) ([]byte, error)
	// UnmarshalFields reads a key/value document keeping the original key order.
	UnmarshalFields(data []byte) ([]Field, error)
}

// Field is one entry of an ordered document. Value is encoded with the codec that produced it.
type Field struct {
	Key   string
	Value Raw
}

// Raw is a value that has already been encoded with the connection's codec.
// It is emitted verbatim by both codecs.
type Raw []byte

// MarshalJSON returns r verbatim.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of data.
func (r *Raw) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("codec: UnmarshalJSON on nil Raw")
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// EncodeMsgpack writes r verbatim.
func (r Raw) EncodeMsgpack(enc *msgpack.Encoder) error {
	return msgpack.RawMessage(r).EncodeMsgpack(enc)
}

// DecodeMsgpack captures the next value without interpreting it.
func (r *Raw) DecodeMsgpack(dec *msgpack.Decoder) error {
	msg, err := dec.DecodeRaw()
	if err != nil {
		return err
	}
	*r = Raw(msg)
	return nil
}

// IsNull reports whether r is empty or an encoded null.
func (r Raw) IsNull() bool {
	switch {
	case len(r) == 0:
		return true
	case len(r) == 1 && r[0] == 0xc0: // msgpack nil
		return true
	default:
		return strings.TrimSpace(string(r)) == "null"
	}
}

// ByName returns the codec registered under name ("json" or "msgpack").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "msgpack", "messagepack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Lookup returns the value stored under key.
func Lookup(fields []Field, key string) (Raw, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}
