package injector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/component"
)

func writeConfig(t *testing.T, doc string) Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worldlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return Options{ConfigPath: path}
}

func TestInitializeAuthorityAndWorld(t *testing.T) {
	auth, cleanup, err := InitializeAuthority(writeConfig(t, `
authority:
  listen: [tcp://127.0.0.1:0]
log:
  level: error
metrics:
  address: 127.0.0.1:0
`))
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, auth.Metrics)

	require.NoError(t, auth.Server.Listen(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- auth.Server.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ep, ok := auth.Server.Endpoint(transport.ModeTCP)
	require.True(t, ok)

	world, closeWorld, err := InitializeWorld(context.Background(), writeConfig(t, fmt.Sprintf(`
client:
  endpoint: %s
  default_timeout: 2s
log:
  level: error
`, ep.String())))
	require.NoError(t, err)
	defer closeWorld()

	_, err = world.Spawn(context.Background(), []component.Component{component.NewName("wired")})
	require.NoError(t, err)
	assert.Equal(t, 1, auth.Server.Store().Len())

	closeWorld()
	select {
	case <-world.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("world not closed by cleanup")
	}
}

func TestProvideMetricsDisabledByDefault(t *testing.T) {
	cfg, err := ProvideConfig(Options{})
	require.NoError(t, err)
	assert.Nil(t, ProvideMetrics(cfg))

	cfg, err = ProvideConfig(Options{MetricsAddr: "127.0.0.1:0", Codec: "msgpack", Listen: []string{"udp://127.0.0.1:0"}})
	require.NoError(t, err)
	assert.NotNil(t, ProvideMetrics(cfg))
	assert.Equal(t, "msgpack", cfg.Client.Codec)
	assert.Equal(t, "msgpack", cfg.Authority.Codec)
	assert.Equal(t, []string{"udp://127.0.0.1:0"}, cfg.Authority.Listen)

	_, err = ProvideConfig(Options{Endpoint: "carrier-pigeon://nowhere"})
	assert.Error(t, err)
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	_, _, err := InitializeAuthority(writeConfig(t, "authority:\n  codec: xml\n"))
	assert.Error(t, err)

	_, _, err = InitializeWorld(context.Background(), Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
