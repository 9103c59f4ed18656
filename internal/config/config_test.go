package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second, c.Client.DefaultTimeout)
	assert.Len(t, c.Authority.Listen, len(transport.Modes))
	assert.Equal(t, "ws://127.0.0.1:7402/world", c.Authority.Listen[2])
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	const doc = `
client:
  endpoint: tcp://10.0.0.5:9000
  codec: msgpack
  default_timeout: 250ms
  auto_name: true
authority:
  listen:
    - quic://0.0.0.0:9443
    - ws://0.0.0.0:9080/scene
  shards: 4
  rate_limit: 100
  rate_window: 2s
  udp_idle_timeout: 30s
log:
  level: debug
  encoding: console
metrics:
  address: :9100
`
	c, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5:9000", c.Client.Endpoint)
	assert.Equal(t, "msgpack", c.Client.Codec)
	assert.Equal(t, 250*time.Millisecond, c.Client.DefaultTimeout)
	assert.Equal(t, transport.DefaultDialTimeout, c.Client.DialTimeout, "unset keys keep defaults")
	assert.True(t, c.Client.AutoName)
	assert.Equal(t, []string{"quic://0.0.0.0:9443", "ws://0.0.0.0:9080/scene"}, c.Authority.Listen)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "console", c.Log.Encoding)
	assert.Equal(t, ":9100", c.Metrics.Address)

	sdk, err := c.Client.SDK(log.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, transport.Endpoint{Mode: transport.ModeTCP, Address: "10.0.0.5:9000"}, sdk.Endpoint)
	assert.Equal(t, 250*time.Millisecond, sdk.DefaultTimeout)
	assert.True(t, sdk.AutoName)

	srv, err := c.Authority.Server()
	require.NoError(t, err)
	require.Len(t, srv.Endpoints, 2)
	assert.Equal(t, transport.Endpoint{Mode: transport.ModeWebSocket, Address: "0.0.0.0:9080", Path: "/scene"}, srv.Endpoints[1])
	assert.Equal(t, codec.JSON, srv.Codec)
	assert.Equal(t, 4, srv.ShardCount)
	assert.Equal(t, 100, srv.RateLimit)
	assert.Equal(t, 2*time.Second, srv.RateWindow)
	assert.Equal(t, 30*time.Second, srv.Transport.PeerIdleTimeout)
}

func TestLoadYAMLRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "client:\n  endpont: udp://127.0.0.1:1\n"},
		{"bad endpoint", "client:\n  endpoint: sctp://127.0.0.1:1\n"},
		{"bad codec", "client:\n  codec: xml\n"},
		{"zero timeout", "client:\n  default_timeout: 0s\n"},
		{"empty listen", "authority:\n  listen: []\n"},
		{"duplicate mode", "authority:\n  listen: [tcp://127.0.0.1:1, tcp://127.0.0.1:2]\n"},
		{"negative shards", "authority:\n  shards: -1\n"},
		{"negative udp idle", "authority:\n  udp_idle_timeout: -1s\n"},
		{"rate without window", "authority:\n  rate_limit: 5\n  rate_window: 0s\n"},
		{"bad level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	path := filepath.Join(t.TempDir(), "worldlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  codec: msgpack\n"), 0o600))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Client.Codec)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	c, err = Load(empty)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
