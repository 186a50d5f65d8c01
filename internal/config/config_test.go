package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, "scripts", cfg.ScriptsDir)
	assert.True(t, cfg.HotReload)
	assert.Equal(t, 5*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MODULAR_WORKERS", "8")
	t.Setenv("MODULAR_SCRIPTS_DIR", "/srv/scripts")
	t.Setenv("MODULAR_HOT_RELOAD", "false")
	t.Setenv("MODULAR_SCRIPT_TIMEOUT", "250ms")
	t.Setenv("MODULAR_METRICS_ADDR", ":9090")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MODULAR_BROKER_EXPORT", "orders.>")
	t.Setenv("MODULAR_BROKER_INBOUND", "in.a, in.b,,")
	t.Setenv("MODULAR_TRACING_ENABLED", "true")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "/srv/scripts", cfg.ScriptsDir)
	assert.False(t, cfg.HotReload)
	assert.Equal(t, 250*time.Millisecond, cfg.ScriptTimeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "orders.>", cfg.Broker.Export)
	assert.Equal(t, []string{"in.a", "in.b"}, cfg.Broker.Inbound)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MODULAR_LIBRARY_PATH=/opt/libmodular.so\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("MODULAR_LIBRARY_PATH") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/libmodular.so", cfg.LibraryPath)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"MODULAR_WORKERS":        "many",
		"MODULAR_SCRIPT_TIMEOUT": "soon",
		"MODULAR_HOT_RELOAD":     "sometimes",
		"LOG_FORMAT":             "xml",
		"LOG_LEVEL":              "loud",
		"MODULAR_METRICS_ADDR":   "not an address",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}

	t.Run("zero workers", func(t *testing.T) {
		t.Setenv("MODULAR_WORKERS", "0")
		_, err := Load(noEnvFile(t))
		assert.Error(t, err)
	})
}
