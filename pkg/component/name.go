package component

import (
	"github.com/zeusync/worldlink/pkg/codec"
)

// Name is a human-readable entity label.
type Name struct {
	Value string
}

func NewName(value string) Name { return Name{Value: value} }

func (Name) Kind() Kind   { return KindName }
func (Name) isComponent() {}

type nameWire struct {
	Type  Kind    `json:"type" msgpack:"type"`
	Value *string `json:"value" msgpack:"value"`
}

func (n Name) wire() any {
	return nameWire{Type: KindName, Value: &n.Value}
}

func decodeName(cd codec.Codec, data []byte) (Component, error) {
	var w nameWire
	if err := decodeWire(cd, data, KindName, &w); err != nil {
		return nil, err
	}
	if w.Value == nil {
		return nil, missing(KindName, "value")
	}
	return Name{Value: *w.Value}, nil
}
