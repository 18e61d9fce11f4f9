package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cuebridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "console", s.Log.Format)
	assert.Equal(t, "stderr", s.Log.Output)
	assert.Equal(t, 0, s.Engine.Workers)
	assert.Equal(t, "name", s.Engine.ProjectField)
	assert.False(t, s.Metrics.Enabled)
	assert.Equal(t, ":9090", s.Metrics.Addr)
	assert.Equal(t, "none", s.Tracing.Exporter)
	assert.Equal(t, 200*time.Millisecond, s.Watch.Debounce)
}

func TestLoadFile(t *testing.T) {
	path := writeSettings(t, `
log:
  level: debug
  format: json
engine:
  workers: 4
  project_field: id
metrics:
  enabled: true
  addr: 127.0.0.1:9464
watch:
  debounce: 1s
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, 4, s.Engine.Workers)
	assert.Equal(t, "id", s.Engine.ProjectField)
	assert.True(t, s.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9464", s.Metrics.Addr)
	assert.Equal(t, "/metrics", s.Metrics.Path)
	assert.Equal(t, time.Second, s.Watch.Debounce)
}

func TestLoadWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cuebridge.yaml"), []byte("log:\n  level: warn\n"), 0o644))
	t.Chdir(dir)

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", s.Log.Level)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeSettings(t, "log:\n  level: debug\nengine:\n  workers: 2\n")
	t.Setenv("CUEBRIDGE_LOG_LEVEL", "error")
	t.Setenv("CUEBRIDGE_ENGINE_WORKERS", "8")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", s.Log.Level)
	assert.Equal(t, 8, s.Engine.Workers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "log level", content: "log:\n  level: loud\n"},
		{name: "log format", content: "log:\n  format: xml\n"},
		{name: "negative workers", content: "engine:\n  workers: -1\n"},
		{name: "empty project field", content: "engine:\n  project_field: \"\"\n"},
		{name: "exporter", content: "tracing:\n  exporter: zipkin\n"},
		{name: "otlp without endpoint", content: "tracing:\n  exporter: otlp\n"},
		{name: "sampling rate", content: "tracing:\n  sampling_rate: 2\n"},
		{name: "metrics path", content: "metrics:\n  path: metrics\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSettings(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, errors.FlattenHints(err), "CUEBRIDGE_")
		})
	}
}

func TestTelemetry(t *testing.T) {
	s, err := LoadWithViper(NewViper())
	require.NoError(t, err)
	s.Log.Format = "json"
	s.Metrics.Enabled = true
	s.Tracing.Enabled = true
	s.Tracing.Exporter = "stdout"

	cfg := s.Telemetry("1.2.3")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cuebridge", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddress)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestEngineOptions(t *testing.T) {
	s := &Settings{Engine: EngineSettings{Workers: 3, ProjectField: "id"}}
	opts := s.EngineOptions()
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, "id", opts.ProjectField)
}
