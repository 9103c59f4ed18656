package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldlink/internal/authority"
	"github.com/zeusync/worldlink/internal/config"
	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
	"github.com/zeusync/worldlink/sdk/go/client"
)

func startAuthority(t *testing.T) (*authority.Server, string) {
	t.Helper()
	cfg := authority.Config{
		Endpoints: []transport.Endpoint{{Mode: transport.ModeTCP, Address: "127.0.0.1:0"}},
		Codec:     codec.JSON,
		Transport: transport.DefaultOptions(),
	}
	srv := authority.NewServer(cfg, log.NewNop(), nil)
	require.NoError(t, srv.Listen(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ep, ok := srv.Endpoint(transport.ModeTCP)
	require.True(t, ok)
	return srv, ep.String()
}

func run(t *testing.T, endpoint string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"-e", endpoint, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorldCommands(t *testing.T) {
	srv, ep := startAuthority(t)

	out, err := run(t, ep, "spawn", "--name", "cube", "--position", "0,1,0", "--shape", "cube:0.5", "--color", "1,0,0")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, ep, "spawn", `{"type":"Name","value":"scout"}`, `{"type":"Velocity","linear":[1,0,0]}`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, ep, "update", "cube", `{"type":"Transform3d","position":[2,0,0]}`)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, ep, "--json", "list")
	require.NoError(t, err)
	var listed []listedEntity
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, client.EntityRef("1"), listed[0].ID)
	assert.Equal(t, "cube", listed[0].Name)
	require.Len(t, listed[0].Components, 4)
	tr, err := component.Decode(codec.JSON, listed[0].Components[1])
	require.NoError(t, err)
	assert.Equal(t, component.NewTransform3d(component.Vec3{2, 0, 0}), tr)
	assert.JSONEq(t, `{"type":"Velocity","linear":[1,0,0]}`, string(listed[1].Components[1]))

	out, err = run(t, ep, "list", "--with", "Velocity")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "scout")
	assert.Contains(t, lines[1], "Name,Velocity")

	out, err = run(t, ep, "insert", "scout", `{"type":"Material","texture":"rock.png"}`)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, ep, "apply", "List", "filter: {name_prefix: pro}")
	require.NoError(t, err)
	var result struct {
		Entities []struct {
			ID         string            `json:"id"`
			Components []json.RawMessage `json:"components"`
		} `json:"entities"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "2", result.Entities[0].ID)
	assert.Len(t, result.Entities[0].Components, 3)

	_, err = run(t, ep, "detach", "scout", "Material", "Velocity")
	require.NoError(t, err)
	rec, err := srv.Store().Get("scout")
	require.NoError(t, err)
	assert.Len(t, rec.Components, 1)

	_, err = run(t, ep, "rm", "cube")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Store().Len())

	out, err = run(t, ep, "clear")
	require.NoError(t, err)
	assert.Equal(t, "removed 1\n", out)
}

func TestWorldCommandErrors(t *testing.T) {
	_, ep := startAuthority(t)

	_, err := run(t, ep, "update", "missing_entity", `{"type":"Name","value":"x"}`)
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))

	_, err = run(t, ep, "apply", "Teleport", `{"to":"mars"}`)
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)

	_, err = run(t, ep, "remove", "ghost")
	assert.ErrorContains(t, err, "remove ghost")

	_, err = run(t, ep, "remove-component", "ghost", "Name")
	assert.True(t, client.IsNotFound(err))

	_, err = run(t, ep, "spawn", `{"value":"untyped"}`)
	assert.Error(t, err)

	_, err = run(t, ep, "spawn", "--shape", "pyramid:1")
	assert.ErrorContains(t, err, "unknown shape")

	_, err = run(t, ep, "--timeout", "0s", "--codec", "xml", "list")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestServeStopsOnCancel(t *testing.T) {
	var out bytes.Buffer
	cmd := New()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--log-level", "error", "serve", "--listen", "tcp://127.0.0.1:0", "--listen", "udp://127.0.0.1:0", "--metrics-addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	require.NoError(t, cmd.ExecuteContext(ctx))

	assert.Contains(t, out.String(), "listening on udp://127.0.0.1:")
	assert.Contains(t, out.String(), "listening on tcp://127.0.0.1:")
	assert.Contains(t, out.String(), "/metrics")
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		in   string
		want component.Shape3d
		err  bool
	}{
		{in: "sphere:0.5", want: component.Sphere(0.5)},
		{in: "Cube:1", want: component.Cube(1)},
		{in: "cuboid:1,2,3", want: component.Cuboid(component.Vec3{1, 2, 3})},
		{in: "torus:0.1, 1", want: component.Torus(0.1, 1)},
		{in: "cylinder:1", err: true},
		{in: "sphere:abc", err: true},
		{in: "blob:1", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseShape(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload(t *testing.T) {
	v, err := parsePayload(`{"components":[{"type":"Name","value":"a"}]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"components": []any{map[string]any{"type": "Name", "value": "a"}}}, v)

	v, err = parsePayload("  ")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parsePayload("{unclosed")
	assert.Error(t, err)

	v, err = loadPayload("-", strings.NewReader("entity: cube\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"entity": "cube"}, v)
}
