package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
transport:
  listen_address: "0.0.0.0:9000"
  max_connections: 500
qos:
  priority_levels: 4
  default_priority: 2
logging:
  level: debug
  format: pretty
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "honeylink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFileAndDefaults(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9000", cfg.Transport.ListenAddress)
	require.Equal(t, 500, cfg.Transport.MaxConnections)
	require.True(t, cfg.Transport.EnableQUIC, "must default to QUIC when neither backend is set")
	require.Equal(t, 4, cfg.QoS.PriorityLevels)
	require.Equal(t, 2, cfg.QoS.DefaultPriority)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, LogFormatPretty, cfg.Logging.Format)
	require.Equal(t, "honeylinkd", cfg.Telemetry.ServiceName)
}

func TestLoadEmptyPathIsEnvOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:7400", cfg.Transport.ListenAddress)
}

func TestEnvOverrideTakesPrecedenceOverFile(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	t.Setenv("HONEYLINK_TRANSPORT_LISTEN_ADDRESS", "10.0.0.1:8443")
	t.Setenv("HONEYLINK_QOS_PRIORITY_LEVELS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:8443", cfg.Transport.ListenAddress)
	require.Equal(t, 6, cfg.QoS.PriorityLevels)
}

func TestQoSPriorityLevelsOutOfRangeRejected(t *testing.T) {
	path := writeTemp(t, "qos:\n  priority_levels: 20\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestTelemetryRequiresEndpointWhenEnabled(t *testing.T) {
	path := writeTemp(t, "telemetry:\n  enabled: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestHolderReloadAppliesValidChangeAndRejectsInvalid(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	h, err := NewHolder(path)
	require.NoError(t, err)
	require.Equal(t, 500, h.Get().Transport.MaxConnections)

	ch := make(chan Config, 1)
	h.Subscribe(ch)

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  max_connections: 999\n"), 0o600))
	require.NoError(t, h.Reload())
	require.Equal(t, 999, h.Get().Transport.MaxConnections)

	select {
	case got := <-ch:
		require.Equal(t, 999, got.Transport.MaxConnections)
	default:
		t.Fatal("expected a notification on reload")
	}

	require.NoError(t, os.WriteFile(path, []byte("qos:\n  priority_levels: 99\n"), 0o600))
	require.Error(t, h.Reload())
	require.Equal(t, 999, h.Get().Transport.MaxConnections, "invalid reload must not change the active config")
}

func TestHolderWatchPicksUpFileChanges(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	h, err := NewHolder(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Watch(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  max_connections: 321\n"), 0o600))

	require.Eventually(t, func() bool {
		return h.Get().Transport.MaxConnections == 321
	}, 2*time.Second, 20*time.Millisecond)
}
