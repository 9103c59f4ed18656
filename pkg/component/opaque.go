package component

import (
	"fmt"

	"github.com/zeusync/worldlink/pkg/codec"
)

// Opaque is a component of a kind this package does not model. Fields keep their original
// order and encoding, so an Opaque re-encodes to the same document it was decoded from when
// the same codec is used on both sides.
type Opaque struct {
	Type   Kind
	Fields []codec.Field
}

// NewOpaque builds an opaque component by encoding each value with cd. Keys keep the given order.
func NewOpaque(cd codec.Codec, kind Kind, kv ...any) (*Opaque, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("%w: odd key/value list for %s", ErrInvalidComponent, kind)
	}
	o := &Opaque{Type: kind, Fields: make([]codec.Field, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %v is not a string", ErrInvalidComponent, kv[i])
		}
		raw, err := cd.Marshal(kv[i+1])
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", kind, key, err)
		}
		o.Fields = append(o.Fields, codec.Field{Key: key, Value: raw})
	}
	return o, nil
}

func (o Opaque) Kind() Kind { return o.Type }
func (Opaque) isComponent() {}

// Field returns the encoded value stored under key.
func (o Opaque) Field(key string) (codec.Raw, bool) {
	return codec.Lookup(o.Fields, key)
}

// Get decodes the value stored under key into dst.
func (o Opaque) Get(cd codec.Codec, key string, dst any) error {
	raw, ok := o.Field(key)
	if !ok {
		return missing(o.Type, key)
	}
	return cd.Unmarshal(raw, dst)
}

func (o Opaque) encode(cd codec.Codec) (codec.Raw, error) {
	if o.Type == "" {
		return nil, ErrMissingType
	}
	kind, err := cd.Marshal(string(o.Type))
	if err != nil {
		return nil, err
	}
	fields := make([]codec.Field, 0, len(o.Fields)+1)
	fields = append(fields, codec.Field{Key: typeField, Value: kind})
	for _, f := range o.Fields {
		if f.Key == typeField {
			continue
		}
		fields = append(fields, f)
	}
	data, err := cd.MarshalFields(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.Type, err)
	}
	return data, nil
}

func decodeOpaque(cd codec.Codec, data []byte) (Component, error) {
	fields, err := cd.UnmarshalFields(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidComponent, err)
	}
	o := &Opaque{Fields: make([]codec.Field, 0, len(fields))}
	for _, f := range fields {
		if f.Key == typeField {
			var kind string
			if err = cd.Unmarshal(f.Value, &kind); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMissingType, err)
			}
			o.Type = Kind(kind)
			continue
		}
		o.Fields = append(o.Fields, f)
	}
	if o.Type == "" {
		return nil, ErrMissingType
	}
	return o, nil
}
