// Package client is the Go SDK for driving a remote worldlink authority.
//
// A World owns one connection. Calls block until the authority answers, the call's timeout
// elapses or the context ends. Every failure is typed: see TimeoutError, TransportError,
// ProtocolError, RemoteError and PartialFailureError.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

// World is a handle on one remote world. It is safe for concurrent use.
type World struct {
	cfg     Config
	codec   codec.Codec
	channel *transport.Channel
	logger  log.Log

	namer *namer
	// names maps entities spawned by this World to the names allocated for them.
	names sync.Map // EntityRef -> string

	closed int32 // atomic bool
}

// Dial connects to the authority described by cfg.
func Dial(ctx context.Context, cfg Config) (*World, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cd, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger.With(log.String("component", "world"))
	conn, err := transport.Dial(ctx, cfg.Endpoint, cfg.transportOptions())
	if err != nil {
		logger.Error("Failed to connect to authority",
			log.String("endpoint", cfg.Endpoint.String()),
			log.Error(err))
		return nil, err
	}

	w := &World{
		cfg:     cfg,
		codec:   cd,
		channel: transport.NewChannel(conn, cd, transport.ChannelOptions{Logger: cfg.Logger, Metrics: cfg.Metrics}),
		logger:  logger,
	}
	if cfg.AutoName {
		w.namer = newNamer()
	}

	w.logger.Info("Connected to authority",
		log.String("endpoint", cfg.Endpoint.String()),
		log.String("codec", cd.Name()),
		log.String("session_id", w.channel.SessionID()))
	return w, nil
}

// Close releases the connection. Calls in flight fail with ErrConnectionClosed.
func (w *World) Close() error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil
	}
	err := w.channel.Close()
	w.logger.Info("World closed", log.Any("stats", w.channel.Stats()))
	return err
}

// Done is closed when the connection has stopped, whether by Close or by failure.
func (w *World) Done() <-chan struct{} { return w.channel.Done() }

// Endpoint returns the authority this World talks to.
func (w *World) Endpoint() transport.Endpoint { return w.cfg.Endpoint }

func (w *World) send(ctx context.Context, cmd protocol.Command, o callOptions) (*protocol.Reply, error) {
	if atomic.LoadInt32(&w.closed) == 1 {
		return nil, ErrWorldClosed
	}
	return w.channel.SendAndWait(ctx, cmd, o.timeout)
}

// entityResult decodes the {entity} result shared by Spawn, Insert, Update and Remove.
func (w *World) entityResult(reply *protocol.Reply) (EntityRef, error) {
	var res protocol.EntityResult
	if err := protocol.DecodeResult(w.codec, reply, &res); err != nil {
		return "", err
	}
	return res.Entity, nil
}

// Spawn creates an entity carrying components in order and waits for the authority to
// acknowledge it. When some components were rejected the entity still exists: its reference
// is returned together with a *PartialFailureError.
func (w *World) Spawn(ctx context.Context, components []component.Component, opts ...CallOption) (EntityRef, error) {
	o, err := w.callOptions(opts)
	if err != nil {
		return "", err
	}
	components, name := w.nameComponents(components)

	reply, err := w.send(ctx, protocol.Spawn(components...), o)
	if err != nil {
		// After a timeout the authority may still create the entity under this name.
		if !errors.Is(err, ErrTimeout) {
			w.releaseName(name)
		}
		return "", err
	}
	entity, err := w.entityResult(reply)
	if err != nil {
		var pf *PartialFailureError
		if errors.As(err, &pf) && pf.Entity != "" {
			w.trackName(pf.Entity, name)
			return pf.Entity, err
		}
		w.releaseName(name)
		return "", err
	}
	w.trackName(entity, name)
	w.logger.Debug("Spawned entity", log.String("entity", string(entity)), log.Int("components", len(components)))
	return entity, nil
}

// SpawnNoWait sends a Spawn and returns once it is on the wire. The authority does not
// answer, so no reference is returned and remote failures go unseen.
func (w *World) SpawnNoWait(ctx context.Context, components ...component.Component) error {
	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrWorldClosed
	}
	components, _ = w.nameComponents(components)
	return w.channel.SendOnly(ctx, protocol.Spawn(components...))
}

// Despawn removes an entity, addressed by reference or by name.
func (w *World) Despawn(ctx context.Context, entity EntityRef, opts ...CallOption) error {
	o, err := w.callOptions(opts)
	if err != nil {
		return err
	}
	reply, err := w.send(ctx, protocol.Remove(entity), o)
	if err != nil {
		return err
	}
	removed, err := w.entityResult(reply)
	if err != nil {
		return err
	}
	w.forgetName(removed)
	return nil
}

// Remove is Despawn.
func (w *World) Remove(ctx context.Context, entity EntityRef, opts ...CallOption) error {
	return w.Despawn(ctx, entity, opts...)
}

// RemoveComponent detaches the component of the given kind from an entity, which stays
// alive. An entity without that component fails with a *RemoteError coded invalid_component.
func (w *World) RemoveComponent(ctx context.Context, entity EntityRef, kind component.Kind, opts ...CallOption) error {
	o, err := w.callOptions(opts)
	if err != nil {
		return err
	}
	reply, err := w.send(ctx, protocol.RemoveComponent(entity, kind), o)
	if err != nil {
		return err
	}
	detached, err := w.entityResult(reply)
	if err != nil {
		return err
	}
	if kind == component.KindName {
		w.forgetName(detached)
	}
	return nil
}

// Update replaces the entity's component of the same kind, adding it when absent. An unknown
// entity fails with a *RemoteError whose IsNotFound reports true.
func (w *World) Update(ctx context.Context, entity EntityRef, c component.Component, opts ...CallOption) error {
	o, err := w.callOptions(opts)
	if err != nil {
		return err
	}
	reply, err := w.send(ctx, protocol.Update(entity, c), o)
	if err != nil {
		return err
	}
	_, err = w.entityResult(reply)
	return err
}

// Insert adds components to an existing entity, replacing components of the same kind.
func (w *World) Insert(ctx context.Context, entity EntityRef, components []component.Component, opts ...CallOption) error {
	o, err := w.callOptions(opts)
	if err != nil {
		return err
	}
	reply, err := w.send(ctx, protocol.Insert(entity, components...), o)
	if err != nil {
		return err
	}
	_, err = w.entityResult(reply)
	return err
}

// List returns a snapshot of the world in spawn order. An empty world yields an empty,
// non-nil slice.
func (w *World) List(ctx context.Context, opts ...CallOption) ([]Entity, error) {
	o, err := w.callOptions(opts)
	if err != nil {
		return nil, err
	}
	reply, err := w.send(ctx, protocol.List(o.filter), o)
	if err != nil {
		return nil, err
	}
	var res protocol.ListResult
	if err = protocol.DecodeResult(w.codec, reply, &res); err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(res.Entities))
	for _, rec := range res.Entities {
		e, err := decodeEntity(w.codec, rec)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Clear despawns every entity and returns how many were removed.
func (w *World) Clear(ctx context.Context, opts ...CallOption) (int, error) {
	o, err := w.callOptions(opts)
	if err != nil {
		return 0, err
	}
	reply, err := w.send(ctx, protocol.Clear(), o)
	if err != nil {
		return 0, err
	}
	var res protocol.ClearResult
	if err = protocol.DecodeResult(w.codec, reply, &res); err != nil {
		return 0, err
	}
	if w.namer != nil {
		w.namer.reset()
		w.names.Range(func(k, _ any) bool {
			w.names.Delete(k)
			return true
		})
	}
	return res.Removed, nil
}

// Apply sends a pre-built command and returns the authority's raw reply. A reply reporting
// failure is returned together with its typed error.
func (w *World) Apply(ctx context.Context, cmd *RawCommand, opts ...CallOption) (*Reply, error) {
	o, err := w.callOptions(opts)
	if err != nil {
		return nil, err
	}
	reply, err := w.send(ctx, cmd, o)
	if err != nil {
		return nil, err
	}
	return reply, reply.Err()
}

// ApplyPayload encodes payload with the World's codec and sends it as a command of kind.
func (w *World) ApplyPayload(ctx context.Context, kind string, payload any, opts ...CallOption) (*Reply, error) {
	cmd, err := protocol.NewRawCommand(w.codec, kind, payload)
	if err != nil {
		return nil, err
	}
	return w.Apply(ctx, cmd, opts...)
}

// DecodeReply decodes the result of a reply returned by Apply.
func (w *World) DecodeReply(reply *Reply, dst any) error {
	return protocol.DecodeResult(w.codec, reply, dst)
}

// nameComponents applies AutoName. It returns the components to send and the allocated name.
func (w *World) nameComponents(components []component.Component) ([]component.Component, string) {
	if w.namer == nil {
		return components, ""
	}
	preferred, _ := component.NameOf(components)
	name := w.namer.allocate(preferred)

	out := make([]component.Component, 0, len(components)+1)
	replaced := false
	for _, c := range components {
		if c != nil && c.Kind() == component.KindName && !replaced {
			c = component.NewName(name)
			replaced = true
		}
		out = append(out, c)
	}
	if !replaced {
		out = append([]component.Component{component.NewName(name)}, out...)
	}
	return out, name
}

func (w *World) trackName(entity EntityRef, name string) {
	if name != "" {
		w.names.Store(entity, name)
	}
}

func (w *World) releaseName(name string) {
	if w.namer != nil && name != "" {
		w.namer.release(name)
	}
}

func (w *World) forgetName(entity EntityRef) {
	if v, ok := w.names.LoadAndDelete(entity); ok {
		w.releaseName(v.(string))
	}
}
