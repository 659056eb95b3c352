package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semenovf/netty-go/channel"
)

const sampleTOML = `
[node]
name = "gateway-1"
is_gateway = true
listen = "0.0.0.0:7000"
dial = ["10.0.0.2:7000"]

[heartbeat]
interval_seconds = 2

[alive]
interval_seconds = 3
route_stale_seconds = 60

[frame]
size_bytes = 1400
weights = [4, 2, 1]

[reconnect]
policy = "escalating"

[delivery]
part_size_bytes = 900

[storage]
bolt_path = "/var/lib/netty/routes.db"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gateway-1", f.Node.Name)
	require.True(t, f.Node.IsGateway)
	require.Equal(t, []string{"10.0.0.2:7000"}, f.Node.Dial)
	require.Equal(t, "/var/lib/netty/routes.db", f.Storage.BoltPath)
}

func TestNodeConfigAppliesOverridesAndDefaults(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	require.NoError(t, err)

	cfg, err := f.NodeConfig()
	require.NoError(t, err)

	require.True(t, cfg.Self.IsGateway)
	require.Equal(t, 2e9, float64(cfg.Channel.Heartbeat.Interval))
	require.Equal(t, channel.ReconnectEscalating, cfg.Channel.Reconnect)
	require.Equal(t, 1400, cfg.Channel.FrameSize)
	require.Equal(t, []int{4, 2, 1}, cfg.Channel.Weights)
	require.Equal(t, uint32(900), cfg.Delivery.PartSize)
	require.Equal(t, 3, cfg.Delivery.NumPriorities)
	require.Equal(t, 60e9, float64(cfg.RouteStale))
}

func TestNodeConfigGeneratesIDWhenAbsent(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	require.NoError(t, err)

	cfg, err := f.NodeConfig()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Self.ID.String())
}
