package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/netsec-simulator/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hopsim.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, core.DefaultEngineConfig(), cfg.EngineConfig())
	assert.Equal(t, 60, cfg.Engine.FPS)
	assert.Equal(t, 1.0, cfg.Engine.Speed)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
[engine]
default_travel_seconds = 2.0
reduced_motion = true
fps = 30

[log]
level = "debug"
format = "json"

[metrics]
addr = ":9464"

[stream]
addr = ":8089"

[scene]
file = "configs/scene.yaml"
watch = true
lesson = "configs/lessons/firewall.yaml"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Engine.DefaultTravelSeconds)
	assert.Equal(t, 1.3, cfg.Engine.SlowdownFactor, "unset keys keep defaults")
	assert.True(t, cfg.Engine.ReducedMotion)
	assert.Equal(t, 30, cfg.Engine.FPS)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, ":8089", cfg.Stream.Addr)
	assert.True(t, cfg.Scene.Watch)
	assert.Equal(t, "configs/lessons/firewall.yaml", cfg.Scene.Lesson)

	ec := cfg.EngineConfig()
	assert.True(t, ec.ReducedMotion)
	assert.InDelta(t, 2.6, ec.TravelDuration(0), 1e-12)
	assert.Equal(t, "debug", cfg.LoggingConfig().Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[engine]\nwarp_factor = 9\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warp_factor")
	assert.Contains(t, err.Error(), path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LOG_LEVEL":                   "warn",
		"HOPSIM_METRICS_ADDR":         ":9000",
		"HOPSIM_STREAM_ADDR":          "127.0.0.1:0",
		"HOPSIM_REDUCED_MOTION":       "true",
		"HOPSIM_SPEED":                "2.5",
		"HOPSIM_TRACING_ENABLED":      "1",
		"HOPSIM_TRACING_EXPORTER":     "otlp",
		"HOPSIM_OTLP_ENDPOINT":        "otel:4317",
		"HOPSIM_TRACING_SAMPLE_RATIO": "0.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":9000", cfg.Metrics.Addr)
	assert.Equal(t, "127.0.0.1:0", cfg.Stream.Addr)
	assert.True(t, cfg.Engine.ReducedMotion)
	assert.Equal(t, 2.5, cfg.Engine.Speed)

	tc := cfg.TracingConfig()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "otlp", tc.Exporter)
	assert.Equal(t, "otel:4317", tc.Endpoint)
	assert.Equal(t, 0.5, tc.SampleRatio)
}

func TestApplyEnvMalformed(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"HOPSIM_SPEED":          "fast",
		"HOPSIM_REDUCED_MOTION": "sometimes",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOPSIM_SPEED")
	assert.Contains(t, err.Error(), "HOPSIM_REDUCED_MOTION")
	assert.Equal(t, 1.0, cfg.Engine.Speed)
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.Tracing.SampleRatio = 3
	cfg.ApplyDefaults()
	assert.Equal(t, 60, cfg.Engine.FPS)
	assert.Equal(t, 1.0, cfg.Engine.Speed)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/events", cfg.Stream.Path)
	assert.Equal(t, 64, cfg.Stream.ClientBuffer)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	ec := cfg.EngineConfig()
	assert.Equal(t, 101, ec.PathSamples)
	assert.Equal(t, "-center", ec.AnchorSuffix)
	assert.Zero(t, ec.SweepSeconds, "zero sweep interval disables the sweep")
}
