package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

// Handler executes envelopes against a Store.
type Handler struct {
	store  *Store
	codec  codec.Codec
	logger log.Log
}

// NewHandler creates a handler that decodes payloads with cd.
func NewHandler(store *Store, cd codec.Codec, logger log.Log) *Handler {
	if logger == nil {
		logger = log.Provide()
	}
	return &Handler{
		store:  store,
		codec:  cd,
		logger: logger.With(log.String("component", "handler")),
	}
}

// Store returns the world the handler mutates.
func (h *Handler) Store() *Store { return h.store }

// Handle executes env and builds its reply. Notifications are executed but answered with nil.
func (h *Handler) Handle(_ context.Context, env *protocol.Envelope) *protocol.Reply {
	result, desc := h.dispatch(env)
	if env.IsNotify() {
		if desc != nil {
			h.logger.Debug("Notification failed",
				log.String("kind", string(env.Kind)),
				log.String("code", string(desc.Code)),
				log.String("message", desc.Message))
		}
		return nil
	}
	if desc != nil {
		return protocol.NewErrorReply(env.RequestID, desc)
	}
	reply, err := protocol.NewResultReply(h.codec, env.RequestID, result)
	if err != nil {
		h.logger.Error("Failed to encode result", log.String("kind", string(env.Kind)), log.Error(err))
		return protocol.NewErrorReply(env.RequestID, &protocol.ErrorDescriptor{
			Code:    protocol.CodeInternal,
			Message: "result encoding failed",
		})
	}
	return reply
}

func (h *Handler) dispatch(env *protocol.Envelope) (any, *protocol.ErrorDescriptor) {
	switch env.Kind {
	case protocol.KindSpawn:
		return h.spawn(env.Payload)
	case protocol.KindInsert:
		return h.insert(env.Payload)
	case protocol.KindUpdate:
		return h.update(env.Payload)
	case protocol.KindRemove:
		return h.remove(env.Payload)
	case protocol.KindRemoveComponent:
		return h.removeComponent(env.Payload)
	case protocol.KindList:
		return h.list(env.Payload)
	case protocol.KindClear:
		return protocol.ClearResult{Removed: h.store.Clear()}, nil
	default:
		return nil, &protocol.ErrorDescriptor{
			Code:    protocol.CodeUnknownCommand,
			Message: fmt.Sprintf("unknown command %q", env.Kind),
		}
	}
}

func (h *Handler) decodePayload(kind protocol.CommandKind, data codec.Raw, dst any) *protocol.ErrorDescriptor {
	if data.IsNull() {
		return invalidCommand(kind, "missing payload")
	}
	if err := h.codec.Unmarshal(data, dst); err != nil {
		return invalidCommand(kind, err.Error())
	}
	return nil
}

func invalidCommand(kind protocol.CommandKind, msg string) *protocol.ErrorDescriptor {
	return &protocol.ErrorDescriptor{
		Code:    protocol.CodeInvalidCommand,
		Message: fmt.Sprintf("%s: %s", kind, msg),
	}
}

// validate decodes every raw component. Rejected components come back as failures and are
// left out of the returned slice; accepted keeps the original index of each stored component.
func (h *Handler) validate(raws []codec.Raw) (stored []Stored, accepted []int, failures []protocol.ComponentFailure) {
	stored = make([]Stored, 0, len(raws))
	for i, raw := range raws {
		c, err := component.Decode(h.codec, raw)
		if n, ok := c.(component.Name); ok && err == nil && n.Value == "" {
			err = fmt.Errorf("%w: empty name", component.ErrInvalidComponent)
		}
		if err != nil {
			kind, _ := component.KindOf(h.codec, raw)
			failures = append(failures, protocol.ComponentFailure{
				Index:   i,
				Type:    string(kind),
				Code:    protocol.CodeInvalidComponent,
				Message: err.Error(),
			})
			continue
		}
		s := Stored{Kind: c.Kind(), Raw: raw}
		if n, ok := c.(component.Name); ok {
			s.Name = n.Value
		}
		stored = append(stored, s)
		accepted = append(accepted, i)
	}
	return stored, accepted, failures
}

func storeFailures(rejected map[int]error, stored []Stored, accepted []int) []protocol.ComponentFailure {
	failures := make([]protocol.ComponentFailure, 0, len(rejected))
	for i := range stored {
		err, ok := rejected[i]
		if !ok {
			continue
		}
		code := protocol.CodeInvalidComponent
		if errors.Is(err, ErrNameInUse) {
			code = protocol.CodeNameInUse
		}
		failures = append(failures, protocol.ComponentFailure{
			Index:   accepted[i],
			Type:    string(stored[i].Kind),
			Code:    code,
			Message: fmt.Sprintf("%s: %s", err, stored[i].Name),
		})
	}
	return failures
}

func partialFailure(entity protocol.EntityRef, failures []protocol.ComponentFailure) *protocol.ErrorDescriptor {
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return &protocol.ErrorDescriptor{
		Code:     protocol.CodePartialFailure,
		Message:  fmt.Sprintf("%d component(s) rejected", len(failures)),
		Failures: failures,
		Entity:   entity,
	}
}

func notFound(r protocol.EntityRef) *protocol.ErrorDescriptor {
	return &protocol.ErrorDescriptor{
		Code:    protocol.CodeEntityNotFound,
		Message: fmt.Sprintf("entity %q not found", r),
		Entity:  r,
	}
}

func (h *Handler) spawn(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.SpawnPayload
	if desc := h.decodePayload(protocol.KindSpawn, data, &p); desc != nil {
		return nil, desc
	}
	stored, accepted, failures := h.validate(p.Components)
	res := h.store.Spawn(stored)
	failures = append(failures, storeFailures(res.Rejected, stored, accepted)...)
	if len(failures) > 0 {
		return nil, partialFailure(res.Entity, failures)
	}
	return protocol.EntityResult{Entity: res.Entity}, nil
}

func (h *Handler) insert(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.InsertPayload
	if desc := h.decodePayload(protocol.KindInsert, data, &p); desc != nil {
		return nil, desc
	}
	if p.Entity == "" {
		return nil, invalidCommand(protocol.KindInsert, "missing entity")
	}
	stored, accepted, failures := h.validate(p.Components)
	entity, rejected, err := h.store.Upsert(p.Entity, stored)
	if err != nil {
		return nil, notFound(p.Entity)
	}
	failures = append(failures, storeFailures(rejected, stored, accepted)...)
	if len(failures) > 0 {
		return nil, partialFailure(entity, failures)
	}
	return protocol.EntityResult{Entity: entity}, nil
}

func (h *Handler) update(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.UpdatePayload
	if desc := h.decodePayload(protocol.KindUpdate, data, &p); desc != nil {
		return nil, desc
	}
	if p.Entity == "" {
		return nil, invalidCommand(protocol.KindUpdate, "missing entity")
	}
	stored, _, failures := h.validate([]codec.Raw{p.Component})
	if len(failures) > 0 {
		return nil, &protocol.ErrorDescriptor{
			Code:    protocol.CodeInvalidComponent,
			Message: failures[0].Message,
			Entity:  p.Entity,
		}
	}
	entity, rejected, err := h.store.Upsert(p.Entity, stored)
	if err != nil {
		return nil, notFound(p.Entity)
	}
	if err, ok := rejected[0]; ok {
		return nil, &protocol.ErrorDescriptor{
			Code:    protocol.CodeNameInUse,
			Message: fmt.Sprintf("%s: %s", err, stored[0].Name),
			Entity:  entity,
		}
	}
	return protocol.EntityResult{Entity: entity}, nil
}

func (h *Handler) remove(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.RemovePayload
	if desc := h.decodePayload(protocol.KindRemove, data, &p); desc != nil {
		return nil, desc
	}
	if p.Entity == "" {
		return nil, invalidCommand(protocol.KindRemove, "missing entity")
	}
	entity, err := h.store.Remove(p.Entity)
	if err != nil {
		return nil, notFound(p.Entity)
	}
	return protocol.EntityResult{Entity: entity}, nil
}

func (h *Handler) removeComponent(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.RemoveComponentPayload
	if desc := h.decodePayload(protocol.KindRemoveComponent, data, &p); desc != nil {
		return nil, desc
	}
	switch {
	case p.Entity == "":
		return nil, invalidCommand(protocol.KindRemoveComponent, "missing entity")
	case p.Component == "":
		return nil, invalidCommand(protocol.KindRemoveComponent, "missing component kind")
	}
	entity, err := h.store.RemoveComponent(p.Entity, component.Kind(p.Component))
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return nil, notFound(p.Entity)
	case errors.Is(err, ErrNoComponent):
		return nil, &protocol.ErrorDescriptor{
			Code:    protocol.CodeInvalidComponent,
			Message: fmt.Sprintf("entity %q has no %s component", p.Entity, p.Component),
			Entity:  p.Entity,
		}
	case err != nil:
		return nil, &protocol.ErrorDescriptor{Code: protocol.CodeInternal, Message: err.Error()}
	}
	return protocol.EntityResult{Entity: entity}, nil
}

func (h *Handler) list(data codec.Raw) (any, *protocol.ErrorDescriptor) {
	var p protocol.ListPayload
	if !data.IsNull() {
		if err := h.codec.Unmarshal(data, &p); err != nil {
			return nil, invalidCommand(protocol.KindList, err.Error())
		}
	}
	return protocol.ListResult{Entities: h.store.List(p.Filter)}, nil
}
