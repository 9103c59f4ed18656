package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack is the compact binary codec.
var Msgpack Codec = msgpackCodec{}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) MarshalFields(fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return nil, err
		}
		if err := f.Value.EncodeMsgpack(enc); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Key, err)
		}
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) UnmarshalFields(data []byte) ([]Field, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocument, err)
	}
	if n < 0 {
		return nil, ErrNotDocument
	}

	fields := make([]Field, 0, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotDocument, err)
		}
		value, err := dec.DecodeRaw()
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Value: Raw(value)})
	}
	return fields, nil
}
