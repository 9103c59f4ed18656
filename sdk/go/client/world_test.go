package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldlink/internal/authority"
	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

// delayMiddleware holds envelopes of one kind before they reach the handler.
type delayMiddleware struct {
	kind  protocol.CommandKind
	delay time.Duration
}

func (m *delayMiddleware) Name() string     { return "delay" }
func (m *delayMiddleware) Priority() uint16 { return 10 }
func (m *delayMiddleware) BeforeHandle(_ context.Context, _ *authority.Session, env *protocol.Envelope) error {
	if env.Kind == m.kind {
		time.Sleep(m.delay)
	}
	return nil
}
func (m *delayMiddleware) AfterHandle(context.Context, *authority.Session, *protocol.Envelope, *protocol.Reply, time.Duration) {
}
func (m *delayMiddleware) OnConnect(context.Context, *authority.Session)            {}
func (m *delayMiddleware) OnDisconnect(context.Context, *authority.Session, string) {}

func startAuthority(t *testing.T, codecName string, mws ...authority.Middleware) *authority.Server {
	t.Helper()
	cd, err := codec.ByName(codecName)
	require.NoError(t, err)

	cfg := authority.Config{Codec: cd, Transport: transport.DefaultOptions()}
	for _, m := range transport.Modes {
		cfg.Endpoints = append(cfg.Endpoints, transport.Endpoint{Mode: m, Address: "127.0.0.1:0"})
	}
	srv := authority.NewServer(cfg, log.NewNop(), nil)
	srv.Use(mws...)
	require.NoError(t, srv.Listen(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("authority did not stop")
		}
	})
	return srv
}

func dialWorld(t *testing.T, srv *authority.Server, mode transport.Mode, codecName string, mutate ...func(*Config)) *World {
	t.Helper()
	ep, ok := srv.Endpoint(mode)
	require.True(t, ok)

	cfg := DefaultConfig()
	cfg.Endpoint = ep
	cfg.Codec = codecName
	for _, fn := range mutate {
		fn(&cfg)
	}
	w, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func demoCube() []component.Component {
	return []component.Component{
		component.NewName("demo_cube"),
		component.NewMesh3d(component.Cube(0.5)),
		component.NewLine3d(component.Vec3{0, 0, 0}, component.Vec3{1, 1, 1}),
	}
}

func TestSpawnListRemoveScenario(t *testing.T) {
	for _, codecName := range []string{"json", "msgpack"} {
		srv := startAuthority(t, codecName)
		for _, mode := range transport.Modes {
			t.Run(codecName+"/"+string(mode), func(t *testing.T) {
				w := dialWorld(t, srv, mode, codecName)
				ctx := context.Background()

				entity, err := w.Spawn(ctx, demoCube(), WithTimeoutMillis(5000))
				require.NoError(t, err)
				assert.NotEmpty(t, entity)

				entities, err := w.List(ctx)
				require.NoError(t, err)
				require.Len(t, entities, 1)
				assert.Equal(t, entity, entities[0].Ref)
				assert.Equal(t, "demo_cube", entities[0].Name)
				assert.Equal(t, demoCube(), entities[0].Components)

				require.NoError(t, w.Remove(ctx, entity))

				entities, err = w.List(ctx)
				require.NoError(t, err)
				assert.NotNil(t, entities)
				assert.Empty(t, entities)
			})
		}
	}
}

func TestUpdateMissingEntityIsRemoteError(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeUDP, "json")

	err := w.Update(context.Background(), "missing_entity", component.NewTransform3d(component.Vec3{1, 0, 0}))
	require.Error(t, err)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodeEntityNotFound, remote.Code)
	assert.True(t, IsNotFound(err))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestUpdateAndInsert(t *testing.T) {
	srv := startAuthority(t, "msgpack")
	w := dialWorld(t, srv, transport.ModeTCP, "msgpack")
	ctx := context.Background()

	entity, err := w.Spawn(ctx, []component.Component{component.NewName("mover")})
	require.NoError(t, err)

	moved := component.NewTransform3d(component.Vec3{3, 2, 1}).WithScale(component.Vec3{2, 2, 2})
	require.NoError(t, w.Update(ctx, "mover", moved))
	require.NoError(t, w.Insert(ctx, entity, []component.Component{component.ColorMaterial(component.RGB(0, 1, 0))}))

	entities, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	tr, ok := entities[0].Transform()
	require.True(t, ok)
	assert.Equal(t, moved, tr)
	assert.True(t, entities[0].Has(component.KindMaterial))
}

func TestListIsIdempotent(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeWebSocket, "json")
	ctx := context.Background()

	_, err := w.Spawn(ctx, []component.Component{component.NewName("a")})
	require.NoError(t, err)
	_, err = w.Spawn(ctx, []component.Component{component.NewName("b")})
	require.NoError(t, err)

	first, err := w.List(ctx)
	require.NoError(t, err)
	second, err := w.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, []component.Component{component.NewName("a")}, first[0].Components)
	assert.Equal(t, []component.Component{component.NewName("b")}, first[1].Components)

	filtered, err := w.List(ctx, WithFilter(ListFilter{NamePrefix: "b"}))
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].Name)
}

func TestInvalidTimeoutIsRejectedLocally(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json")
	ctx := context.Background()

	for _, d := range []time.Duration{0, -time.Second, time.Microsecond} {
		_, err := w.Spawn(ctx, []component.Component{component.NewName("never")}, WithTimeout(d))
		assert.ErrorIs(t, err, ErrInvalidTimeout, d)
	}
	_, err := w.List(ctx, WithTimeoutMillis(0))
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	assert.Zero(t, srv.Store().Len())
	assert.Zero(t, w.channel.Stats().Registered)
}

func TestTimeoutDoesNotCorruptOtherRequests(t *testing.T) {
	srv := startAuthority(t, "json", &delayMiddleware{kind: protocol.KindSpawn, delay: 150 * time.Millisecond})
	w := dialWorld(t, srv, transport.ModeUDP, "json")
	ctx := context.Background()

	start := time.Now()
	_, err := w.Spawn(ctx, []component.Component{component.NewName("slow")}, WithTimeout(50*time.Millisecond))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Less(t, time.Since(start), 140*time.Millisecond)

	// The spawn is still applied; its reply lands about 100ms after the deadline.
	entities, err := w.List(ctx, WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Empty(t, entities)

	require.Eventually(t, func() bool { return w.channel.Stats().Dropped == 1 }, 2*time.Second, 10*time.Millisecond)
	entities, err = w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "slow", entities[0].Name)
}

func TestTimedOutSpawnKeepsItsName(t *testing.T) {
	srv := startAuthority(t, "json", &delayMiddleware{kind: protocol.KindSpawn, delay: 150 * time.Millisecond})
	w := dialWorld(t, srv, transport.ModeTCP, "json", func(c *Config) { c.AutoName = true })
	ctx := context.Background()

	_, err := w.Spawn(ctx, []component.Component{component.NewName("slow")}, WithTimeout(50*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
	require.Eventually(t, func() bool { return srv.Store().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	entity, err := w.Spawn(ctx, []component.Component{component.NewName("slow")})
	require.NoError(t, err)
	entities, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "slow", entities[0].Name)
	assert.Equal(t, entity, entities[1].Ref)
	assert.Equal(t, "slow_1", entities[1].Name)
}

func TestRemoveComponent(t *testing.T) {
	srv := startAuthority(t, "msgpack")
	w := dialWorld(t, srv, transport.ModeWebSocket, "msgpack", func(c *Config) { c.AutoName = true })
	ctx := context.Background()

	entity, err := w.Spawn(ctx, demoCube())
	require.NoError(t, err)
	require.NoError(t, w.RemoveComponent(ctx, "demo_cube", component.KindLine3d))

	entities, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, entity, entities[0].Ref)
	assert.Equal(t, demoCube()[:2], entities[0].Components)

	err = w.RemoveComponent(ctx, entity, component.KindLine3d)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodeInvalidComponent, remote.Code)
	assert.True(t, IsNotFound(w.RemoveComponent(ctx, "ghost", component.KindName)))

	// Detaching the Name hands it back to AutoName.
	require.NoError(t, w.RemoveComponent(ctx, entity, component.KindName))
	_, err = w.Spawn(ctx, []component.Component{component.NewName("demo_cube")})
	require.NoError(t, err)
	entities, err = w.List(ctx, WithFilter(ListFilter{NamePrefix: "demo_cube"}))
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "demo_cube", entities[0].Name)
}

func TestContextDeadlineWins(t *testing.T) {
	srv := startAuthority(t, "json", &delayMiddleware{kind: protocol.KindList, delay: 200 * time.Millisecond})
	w := dialWorld(t, srv, transport.ModeTCP, "json")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := w.List(ctx, WithTimeout(5*time.Second))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTemporary(err))
}

func TestConcurrentSpawns(t *testing.T) {
	srv := startAuthority(t, "msgpack")
	w := dialWorld(t, srv, transport.ModeQUIC, "msgpack")

	const n = 50
	refs := make([]EntityRef, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := w.Spawn(context.Background(), []component.Component{component.NewName(fmt.Sprintf("c%d", i))}, WithTimeout(5*time.Second))
			if err != nil {
				errs <- err
				return
			}
			refs[i] = ref
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[EntityRef]bool, n)
	for i, ref := range refs {
		require.NotEmpty(t, ref)
		assert.False(t, seen[ref], "duplicate ref %s", ref)
		seen[ref] = true

		entities, err := w.List(context.Background(), WithFilter(ListFilter{NamePrefix: fmt.Sprintf("c%d", i)}))
		require.NoError(t, err)
		var found bool
		for _, e := range entities {
			if e.Name == fmt.Sprintf("c%d", i) {
				assert.Equal(t, ref, e.Ref)
				found = true
			}
		}
		assert.True(t, found)
	}
}

func TestPartialFailureOnNameCollision(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json")
	ctx := context.Background()

	_, err := w.Spawn(ctx, []component.Component{component.NewName("taken")})
	require.NoError(t, err)

	entity, err := w.Spawn(ctx, []component.Component{
		component.NewTransform3d(component.Vec3{}),
		component.NewName("taken"),
	})
	var pf *PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.NotEmpty(t, entity)
	assert.Equal(t, entity, pf.Entity)
	require.Len(t, pf.Failures, 1)
	assert.Equal(t, 1, pf.Failures[0].Index)
	assert.Equal(t, protocol.CodeNameInUse, pf.Failures[0].Code)
	assert.ErrorIs(t, err, ErrPartialFailure)
}

func TestAutoName(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json", func(c *Config) { c.AutoName = true })
	ctx := context.Background()

	_, err := w.Spawn(ctx, []component.Component{component.NewTransform3d(component.Vec3{})})
	require.NoError(t, err)
	cube, err := w.Spawn(ctx, []component.Component{component.NewName("cube")})
	require.NoError(t, err)
	_, err = w.Spawn(ctx, []component.Component{component.NewName("cube")})
	require.NoError(t, err)

	entities, err := w.List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"entity_1", "cube", "cube_1"}, names)

	require.NoError(t, w.Despawn(ctx, cube))
	_, err = w.Spawn(ctx, []component.Component{component.NewName("cube")})
	require.NoError(t, err)
	cubes, err := w.List(ctx, WithFilter(ListFilter{NamePrefix: "cube"}))
	require.NoError(t, err)
	require.Len(t, cubes, 2)
	assert.Equal(t, "cube_1", cubes[0].Name)
	assert.Equal(t, "cube", cubes[1].Name)

	removed, err := w.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = w.Spawn(ctx, []component.Component{component.NewName("cube")})
	require.NoError(t, err)
	entities, err = w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "cube", entities[0].Name)
}

func TestSpawnNoWait(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeUDP, "json")

	require.NoError(t, w.SpawnNoWait(context.Background(), component.NewName("fire_and_forget")))
	require.Eventually(t, func() bool {
		entities, err := w.List(context.Background())
		return err == nil && len(entities) == 1 && entities[0].Name == "fire_and_forget"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOpaqueComponentSurvivesRoundTrip(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json")
	ctx := context.Background()

	velocity, err := component.NewOpaque(codec.JSON, "Velocity", "linear", []float32{1, 0, 0}, "angular", 0.5)
	require.NoError(t, err)
	_, err = w.Spawn(ctx, []component.Component{component.NewName("scout"), velocity})
	require.NoError(t, err)

	entities, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	got, ok := entities[0].Component("Velocity")
	require.True(t, ok)
	assert.Equal(t, velocity, got)
}

func TestApply(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json")
	ctx := context.Background()

	reply, err := w.ApplyPayload(ctx, "Teleport", map[string]any{"to": "mars"})
	require.NotNil(t, reply)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.CodeUnknownCommand, remote.Code)

	cmd, err := NewRawCommand("json", "Spawn", map[string]any{
		"components": []map[string]any{{"type": "Name", "value": "raw"}},
	})
	require.NoError(t, err)
	reply, err = w.Apply(ctx, cmd)
	require.NoError(t, err)
	var res protocol.EntityResult
	require.NoError(t, w.DecodeReply(reply, &res))
	assert.NotEmpty(t, res.Entity)

	entities, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "raw", entities[0].Name)
}

func TestClosedWorld(t *testing.T) {
	srv := startAuthority(t, "json")
	w := dialWorld(t, srv, transport.ModeTCP, "json")
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.List(context.Background())
	assert.ErrorIs(t, err, ErrWorldClosed)
	assert.ErrorIs(t, w.SpawnNoWait(context.Background()), ErrWorldClosed)
	<-w.Done()
}

func TestAuthorityShutdownIsTransportError(t *testing.T) {
	srv := startAuthority(t, "json", &delayMiddleware{kind: protocol.KindList, delay: 300 * time.Millisecond})
	w := dialWorld(t, srv, transport.ModeTCP, "json")

	errs := make(chan error, 1)
	go func() {
		_, err := w.List(context.Background(), WithTimeout(5*time.Second))
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Close())

	select {
	case err := <-errs:
		// The authority drains in-flight envelopes before closing, so the reply may still arrive.
		if err != nil {
			assert.ErrorIs(t, err, ErrTransport)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call not released")
	}
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not released")
	}
}

func TestDialValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec = "xml"
	_, err := Dial(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Endpoint.Address = ""
	_, err = Dial(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Endpoint = transport.Endpoint{Mode: transport.ModeTCP, Address: "127.0.0.1:1"}
	cfg.DialTimeout = 200 * time.Millisecond
	_, err = Dial(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrTransport)
}
