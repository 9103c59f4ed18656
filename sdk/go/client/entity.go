package client

import (
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

type (
	EntityRef  = protocol.EntityRef
	ListFilter = protocol.ListFilter
	RawCommand = protocol.RawCommand
	Reply      = protocol.Reply
)

// NewRawCommand encodes payload with the named codec and wraps it for Apply.
func NewRawCommand(codecName, kind string, payload any) (*RawCommand, error) {
	cd, err := codec.ByName(codecName)
	if err != nil {
		return nil, err
	}
	return protocol.NewRawCommand(cd, kind, payload)
}

// Entity is one entity of a List snapshot.
type Entity struct {
	Ref        EntityRef
	Name       string
	Components []component.Component
}

// Component returns the first component of kind k.
func (e Entity) Component(k component.Kind) (component.Component, bool) {
	return component.Find(e.Components, k)
}

// Has reports whether the entity carries a component of kind k.
func (e Entity) Has(k component.Kind) bool {
	_, ok := e.Component(k)
	return ok
}

// Transform returns the entity's transform, if any.
func (e Entity) Transform() (component.Transform3d, bool) {
	c, ok := e.Component(component.KindTransform3d)
	if !ok {
		return component.Transform3d{}, false
	}
	t, ok := c.(component.Transform3d)
	return t, ok
}

func decodeEntity(cd codec.Codec, rec protocol.EntityRecord) (Entity, error) {
	components, err := component.DecodeAll(cd, rec.Components)
	if err != nil {
		return Entity{}, protocol.NewProtocolError("entity "+string(rec.ID), err)
	}
	name := rec.Name
	if name == "" {
		name, _ = component.NameOf(components)
	}
	return Entity{Ref: rec.ID, Name: name, Components: components}, nil
}
