// Package config loads hopsim settings from a TOML file with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/internal/logging"
	"github.com/signalsfoundry/netsec-simulator/internal/observability"
)

// Config is the full hopsim configuration.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
	Tracing Tracing `toml:"tracing"`
	Stream  Stream  `toml:"stream"`
	Scene   Scene   `toml:"scene"`
}

// Engine mirrors core.EngineConfig plus frame loop settings.
type Engine struct {
	DefaultTravelSeconds float64 `toml:"default_travel_seconds"`
	SlowdownFactor       float64 `toml:"slowdown_factor"`
	MinTravelSeconds     float64 `toml:"min_travel_seconds"`
	PathSamples          int     `toml:"path_samples"`
	LiftFactor           float64 `toml:"lift_factor"`
	MinLift              float64 `toml:"min_lift"`
	MaxLift              float64 `toml:"max_lift"`
	EaseWindowSeconds    float64 `toml:"ease_window_seconds"`
	MinSpeed             float64 `toml:"min_speed"`
	MaxSpeed             float64 `toml:"max_speed"`
	ReducedMotion        bool    `toml:"reduced_motion"`
	SweepSeconds         float64 `toml:"sweep_seconds"`
	AnchorStallSeconds   float64 `toml:"anchor_stall_seconds"`
	AnchorSuffix         string  `toml:"anchor_suffix"`

	// Speed is the initial global speed multiplier.
	Speed float64 `toml:"speed"`
	FPS   int     `toml:"fps"`
}

type Log struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
	Path string `toml:"path"`
}

type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Stream configures the websocket event stream. An empty Addr disables it.
type Stream struct {
	Addr         string `toml:"addr"`
	Path         string `toml:"path"`
	ClientBuffer int    `toml:"client_buffer"`
}

// Scene points at the scene and lesson files to load at startup.
type Scene struct {
	File   string `toml:"file"`
	Watch  bool   `toml:"watch"`
	Lesson string `toml:"lesson"`
}

// Default returns the built-in configuration.
func Default() Config {
	ec := core.DefaultEngineConfig()
	tc := observability.DefaultTracingConfig()
	return Config{
		Engine: Engine{
			DefaultTravelSeconds: ec.DefaultTravelSeconds,
			SlowdownFactor:       ec.SlowdownFactor,
			MinTravelSeconds:     ec.MinTravelSeconds,
			PathSamples:          ec.PathSamples,
			LiftFactor:           ec.LiftFactor,
			MinLift:              ec.MinLift,
			MaxLift:              ec.MaxLift,
			EaseWindowSeconds:    ec.EaseWindowSeconds,
			MinSpeed:             ec.MinSpeed,
			MaxSpeed:             ec.MaxSpeed,
			ReducedMotion:        ec.ReducedMotion,
			SweepSeconds:         ec.SweepSeconds,
			AnchorStallSeconds:   ec.AnchorStallSeconds,
			AnchorSuffix:         ec.AnchorSuffix,
			Speed:                1,
			FPS:                  60,
		},
		Log:     Log{Level: "info", Format: "text"},
		Metrics: Metrics{Path: "/metrics"},
		Tracing: Tracing{
			Enabled:     tc.Enabled,
			ServiceName: tc.ServiceName,
			Exporter:    tc.Exporter,
			SampleRatio: tc.SampleRatio,
		},
		Stream: Stream{Path: "/events", ClientBuffer: 64},
	}
}

// Load reads path over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode strictly decodes TOML data into cfg, keeping fields the document
// does not mention.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables read through lookup
// (os.LookupEnv when nil). Malformed numeric or boolean values are errors.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("HOPSIM_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	if v, ok := lookup("HOPSIM_STREAM_ADDR"); ok {
		c.Stream.Addr = v
	}
	if v, ok := lookup("HOPSIM_REDUCED_MOTION"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("HOPSIM_REDUCED_MOTION: %w", err))
		} else {
			c.Engine.ReducedMotion = b
		}
	}
	if v, ok := lookup("HOPSIM_SPEED"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("HOPSIM_SPEED: %w", err))
		} else {
			c.Engine.Speed = f
		}
	}

	tc := observability.ApplyTracingEnv(c.TracingConfig(), lookup)
	c.Tracing = Tracing{
		Enabled:     tc.Enabled,
		ServiceName: tc.ServiceName,
		Exporter:    tc.Exporter,
		Endpoint:    tc.Endpoint,
		SampleRatio: tc.SampleRatio,
	}
	return errors.Join(errs...)
}

// ApplyDefaults fills zero or out-of-range values from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Engine.FPS <= 0 {
		c.Engine.FPS = d.Engine.FPS
	}
	if c.Engine.Speed <= 0 {
		c.Engine.Speed = d.Engine.Speed
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.Stream.Path == "" {
		c.Stream.Path = d.Stream.Path
	}
	if c.Stream.ClientBuffer <= 0 {
		c.Stream.ClientBuffer = d.Stream.ClientBuffer
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = d.Tracing.SampleRatio
	}
}

// EngineConfig converts the engine section, with core defaults applied.
func (c Config) EngineConfig() core.EngineConfig {
	e := c.Engine
	return core.EngineConfig{
		DefaultTravelSeconds: e.DefaultTravelSeconds,
		SlowdownFactor:       e.SlowdownFactor,
		MinTravelSeconds:     e.MinTravelSeconds,
		PathSamples:          e.PathSamples,
		LiftFactor:           e.LiftFactor,
		MinLift:              e.MinLift,
		MaxLift:              e.MaxLift,
		EaseWindowSeconds:    e.EaseWindowSeconds,
		MinSpeed:             e.MinSpeed,
		MaxSpeed:             e.MaxSpeed,
		ReducedMotion:        e.ReducedMotion,
		SweepSeconds:         e.SweepSeconds,
		AnchorStallSeconds:   e.AnchorStallSeconds,
		AnchorSuffix:         e.AnchorSuffix,
	}.ApplyDefaults()
}

// TracingConfig converts the tracing section.
func (c Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// LoggingConfig converts the log section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.AddSource,
	}
}
