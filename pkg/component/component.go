// Package component is the typed value model for ECS components exchanged with a world authority.
//
// Every component is a tagged document whose "type" field selects the variant. Recognized kinds
// decode into typed structs with defaults applied; any other kind decodes into *Opaque, which
// keeps the fields verbatim so it can be re-encoded unchanged.
package component

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldlink/pkg/codec"
)

// Kind is the component discriminator carried in the "type" field.
type Kind string

const (
	KindName        Kind = "Name"
	KindTransform3d Kind = "Transform3d"
	KindMesh3d      Kind = "Mesh3d"
	KindShape3d     Kind = "Shape3d"
	KindMaterial    Kind = "Material"
	KindLine3d      Kind = "Line3d"
)

const typeField = "type"

var (
	ErrMissingType      = errors.New("component: missing or non-string type discriminator")
	ErrMissingField     = errors.New("component: missing required field")
	ErrInvalidComponent = errors.New("component: invalid component")
)

// Component is implemented by every component variant in this package.
type Component interface {
	Kind() Kind
	isComponent()
}

type decodeFunc func(cd codec.Codec, data []byte) (Component, error)

var decoders = map[Kind]decodeFunc{
	KindName:        decodeName,
	KindTransform3d: decodeTransform3d,
	KindMesh3d:      decodeMesh3d,
	KindShape3d:     decodeShape3d,
	KindMaterial:    decodeMaterial,
	KindLine3d:      decodeLine3d,
}

// Recognized reports whether k has a typed representation.
func Recognized(k Kind) bool {
	_, ok := decoders[k]
	return ok
}

// KindOf returns the discriminator of an encoded component without decoding the rest of it.
func KindOf(cd codec.Codec, data []byte) (Kind, error) {
	var head struct {
		Type *string `json:"type" msgpack:"type"`
	}
	if err := cd.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingType, err)
	}
	if head.Type == nil || *head.Type == "" {
		return "", ErrMissingType
	}
	return Kind(*head.Type), nil
}

// Encode produces the wire form of c.
func Encode(cd codec.Codec, c Component) (codec.Raw, error) {
	switch v := c.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil component", ErrInvalidComponent)
	case *Opaque:
		return v.encode(cd)
	case Opaque:
		return v.encode(cd)
	case wireEncoder:
		data, err := cd.Marshal(v.wire())
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.Kind(), err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported component %T", ErrInvalidComponent, c)
	}
}

// Decode reads one component. Unknown kinds come back as *Opaque.
func Decode(cd codec.Codec, data []byte) (Component, error) {
	kind, err := KindOf(cd, data)
	if err != nil {
		return nil, err
	}
	if fn, ok := decoders[kind]; ok {
		return fn(cd, data)
	}
	return decodeOpaque(cd, data)
}

// EncodeAll encodes components in order.
func EncodeAll(cd codec.Codec, components []Component) ([]codec.Raw, error) {
	out := make([]codec.Raw, 0, len(components))
	for i, c := range components {
		raw, err := Encode(cd, c)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// DecodeAll decodes components in order. It fails on the first malformed element.
func DecodeAll(cd codec.Codec, raws []codec.Raw) ([]Component, error) {
	out := make([]Component, 0, len(raws))
	for i, raw := range raws {
		c, err := Decode(cd, raw)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Find returns the first component of kind k.
func Find(components []Component, k Kind) (Component, bool) {
	for _, c := range components {
		if c != nil && c.Kind() == k {
			return c, true
		}
	}
	return nil, false
}

// NameOf returns the value of the first Name component, if any.
func NameOf(components []Component) (string, bool) {
	c, ok := Find(components, KindName)
	if !ok {
		return "", false
	}
	switch n := c.(type) {
	case Name:
		return n.Value, true
	case *Name:
		return n.Value, true
	}
	return "", false
}

type wireEncoder interface {
	wire() any
}

func missing(kind Kind, field string) error {
	return fmt.Errorf("%w: %s.%s", ErrMissingField, kind, field)
}

func decodeWire(cd codec.Codec, data []byte, kind Kind, dst any) error {
	if err := cd.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidComponent, kind, err)
	}
	return nil
}
