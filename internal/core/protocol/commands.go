package protocol

import (
	"fmt"

	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

// Command is a mutation or query addressed to the authority.
type Command interface {
	Kind() CommandKind
	Payload(cd codec.Codec) (codec.Raw, error)
}

// SpawnCommand creates one entity carrying Components in order. Duplicates are sent as given.
type SpawnCommand struct {
	Components []component.Component
}

func Spawn(components ...component.Component) *SpawnCommand {
	return &SpawnCommand{Components: components}
}

func (c *SpawnCommand) Kind() CommandKind { return KindSpawn }

func (c *SpawnCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	raws, err := encodeComponents(cd, c.Components)
	if err != nil {
		return nil, err
	}
	return marshal(cd, KindSpawn, SpawnPayload{Components: raws})
}

// InsertCommand adds Components to an existing entity.
type InsertCommand struct {
	Entity     EntityRef
	Components []component.Component
}

func Insert(entity EntityRef, components ...component.Component) *InsertCommand {
	return &InsertCommand{Entity: entity, Components: components}
}

func (c *InsertCommand) Kind() CommandKind { return KindInsert }

func (c *InsertCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	if err := requireEntity(KindInsert, c.Entity); err != nil {
		return nil, err
	}
	if len(c.Components) == 0 {
		return nil, fmt.Errorf("%w: %s without components", ErrInvalidCommand, KindInsert)
	}
	raws, err := encodeComponents(cd, c.Components)
	if err != nil {
		return nil, err
	}
	return marshal(cd, KindInsert, InsertPayload{Entity: c.Entity, Components: raws})
}

// UpdateCommand replaces the entity's component of the same kind, adding it when absent.
type UpdateCommand struct {
	Entity    EntityRef
	Component component.Component
}

func Update(entity EntityRef, c component.Component) *UpdateCommand {
	return &UpdateCommand{Entity: entity, Component: c}
}

func (c *UpdateCommand) Kind() CommandKind { return KindUpdate }

func (c *UpdateCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	if err := requireEntity(KindUpdate, c.Entity); err != nil {
		return nil, err
	}
	raw, err := component.Encode(cd, c.Component)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return marshal(cd, KindUpdate, UpdatePayload{Entity: c.Entity, Component: raw})
}

// RemoveCommand despawns an entity.
type RemoveCommand struct {
	Entity EntityRef
}

func Remove(entity EntityRef) *RemoveCommand {
	return &RemoveCommand{Entity: entity}
}

func (c *RemoveCommand) Kind() CommandKind { return KindRemove }

func (c *RemoveCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	if err := requireEntity(KindRemove, c.Entity); err != nil {
		return nil, err
	}
	return marshal(cd, KindRemove, RemovePayload{Entity: c.Entity})
}

// RemoveComponentCommand detaches the component of kind Component from an entity, which
// stays alive.
type RemoveComponentCommand struct {
	Entity    EntityRef
	Component component.Kind
}

func RemoveComponent(entity EntityRef, kind component.Kind) *RemoveComponentCommand {
	return &RemoveComponentCommand{Entity: entity, Component: kind}
}

func (c *RemoveComponentCommand) Kind() CommandKind { return KindRemoveComponent }

func (c *RemoveComponentCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	if err := requireEntity(KindRemoveComponent, c.Entity); err != nil {
		return nil, err
	}
	if c.Component == "" {
		return nil, fmt.Errorf("%w: %s without component kind", ErrInvalidCommand, KindRemoveComponent)
	}
	return marshal(cd, KindRemoveComponent, RemoveComponentPayload{Entity: c.Entity, Component: string(c.Component)})
}

// ListCommand enumerates entities, optionally filtered.
type ListCommand struct {
	Filter *ListFilter
}

func List(filter *ListFilter) *ListCommand {
	return &ListCommand{Filter: filter}
}

func (c *ListCommand) Kind() CommandKind { return KindList }

func (c *ListCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	return marshal(cd, KindList, ListPayload{Filter: c.Filter})
}

// ClearCommand despawns every entity.
type ClearCommand struct{}

func Clear() *ClearCommand { return &ClearCommand{} }

func (c *ClearCommand) Kind() CommandKind { return KindClear }

func (c *ClearCommand) Payload(cd codec.Codec) (codec.Raw, error) {
	return marshal(cd, KindClear, ClearPayload{})
}

// RawCommand carries a kind this package does not model. Data must already be encoded with
// the connection's codec; it is sent unchanged.
type RawCommand struct {
	Name string
	Data codec.Raw
}

func (c *RawCommand) Kind() CommandKind { return CommandKind(c.Name) }

func (c *RawCommand) Payload(codec.Codec) (codec.Raw, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: raw command without a kind", ErrInvalidCommand)
	}
	return c.Data, nil
}

// NewRawCommand encodes payload with cd and wraps it as a RawCommand.
func NewRawCommand(cd codec.Codec, kind string, payload any) (*RawCommand, error) {
	data, err := cd.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &RawCommand{Name: kind, Data: data}, nil
}

func requireEntity(kind CommandKind, ref EntityRef) error {
	if ref == "" {
		return fmt.Errorf("%w: %s without entity", ErrInvalidCommand, kind)
	}
	return nil
}

func encodeComponents(cd codec.Codec, components []component.Component) ([]codec.Raw, error) {
	raws, err := component.EncodeAll(cd, components)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return raws, nil
}

func marshal(cd codec.Codec, kind CommandKind, payload any) (codec.Raw, error) {
	data, err := cd.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return data, nil
}
