package protocol

import (
	"github.com/zeusync/worldlink/pkg/codec"
)

// EntityRef addresses an entity on the authority: its canonical id or its unique Name.
type EntityRef string

// String implements fmt.Stringer
func (r EntityRef) String() string { return string(r) }

// CommandKind names a command on the wire.
type CommandKind string

const (
	KindSpawn  CommandKind = "Spawn"
	KindInsert CommandKind = "Insert"
	KindUpdate CommandKind = "Update"
	KindRemove CommandKind = "Remove"
	KindList   CommandKind = "List"
	KindClear  CommandKind = "Clear"

	KindRemoveComponent CommandKind = "RemoveComponent"
)

// NotifyID marks an envelope that expects no reply.
const NotifyID uint64 = 0

// Envelope is one request on the wire.
type Envelope struct {
	RequestID uint64      `json:"request_id" msgpack:"request_id"`
	Kind      CommandKind `json:"kind" msgpack:"kind"`
	Payload   codec.Raw   `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// IsNotify reports whether the sender does not wait for a reply.
func (e *Envelope) IsNotify() bool { return e.RequestID == NotifyID }

// Reply is one response on the wire. Exactly one of Result and Error is meaningful,
// selected by OK.
type Reply struct {
	RequestID uint64           `json:"request_id" msgpack:"request_id"`
	OK        bool             `json:"ok" msgpack:"ok"`
	Result    codec.Raw        `json:"result,omitempty" msgpack:"result,omitempty"`
	Error     *ErrorDescriptor `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ErrorDescriptor is the body of an error reply.
type ErrorDescriptor struct {
	Code     ErrorCode          `json:"code" msgpack:"code"`
	Message  string             `json:"message" msgpack:"message"`
	Failures []ComponentFailure `json:"failures,omitempty" msgpack:"failures,omitempty"`
	Entity   EntityRef          `json:"entity,omitempty" msgpack:"entity,omitempty"`
}

// Err converts the descriptor into a RemoteError or a PartialFailureError.
func (d *ErrorDescriptor) Err() error {
	if d.Code == CodePartialFailure || len(d.Failures) > 0 {
		return &PartialFailureError{Entity: d.Entity, Message: d.Message, Failures: d.Failures}
	}
	return &RemoteError{Code: d.Code, Message: d.Message, Entity: d.Entity}
}

// Err returns nil for a successful reply and the remote failure otherwise.
func (r *Reply) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return NewProtocolError("error reply without descriptor", nil)
	}
	return r.Error.Err()
}

// Payloads and results. The authority decodes these directly; components stay raw so they
// can be validated one by one.

type SpawnPayload struct {
	Components []codec.Raw `json:"components" msgpack:"components"`
}

type InsertPayload struct {
	Entity     EntityRef   `json:"entity" msgpack:"entity"`
	Components []codec.Raw `json:"components" msgpack:"components"`
}

type UpdatePayload struct {
	Entity    EntityRef `json:"entity" msgpack:"entity"`
	Component codec.Raw `json:"component" msgpack:"component"`
}

type RemovePayload struct {
	Entity EntityRef `json:"entity" msgpack:"entity"`
}

// RemoveComponentPayload names the component kind to detach from Entity.
type RemoveComponentPayload struct {
	Entity    EntityRef `json:"entity" msgpack:"entity"`
	Component string    `json:"component" msgpack:"component"`
}

type ListPayload struct {
	Filter *ListFilter `json:"filter,omitempty" msgpack:"filter,omitempty"`
}

// ListFilter narrows a List. An empty filter matches every entity.
type ListFilter struct {
	NamePrefix string   `json:"name_prefix,omitempty" msgpack:"name_prefix,omitempty"`
	With       []string `json:"with,omitempty" msgpack:"with,omitempty"`
}

type ClearPayload struct{}

type EntityResult struct {
	Entity EntityRef `json:"entity" msgpack:"entity"`
}

type EntityRecord struct {
	ID         EntityRef   `json:"id" msgpack:"id"`
	Name       string      `json:"name,omitempty" msgpack:"name,omitempty"`
	Components []codec.Raw `json:"components" msgpack:"components"`
}

type ListResult struct {
	Entities []EntityRecord `json:"entities" msgpack:"entities"`
}

type ClearResult struct {
	Removed int `json:"removed" msgpack:"removed"`
}
