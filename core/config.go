package core

import "math"

// EngineConfig tunes the hop engine. The zero value is not usable directly;
// call ApplyDefaults or start from DefaultEngineConfig.
type EngineConfig struct {
	// DefaultTravelSeconds replaces missing or non-finite travel times.
	DefaultTravelSeconds float64
	// SlowdownFactor stretches every nominal travel time.
	SlowdownFactor float64
	// MinTravelSeconds floors the effective travel duration.
	MinTravelSeconds float64

	// PathSamples is the fixed number of samples in every built path.
	PathSamples int
	// LiftFactor scales endpoint separation into arc height.
	LiftFactor float64
	MinLift    float64
	MaxLift    float64

	// EaseWindowSeconds sizes the ease-in and ease-out ramps of EasingInOut.
	EaseWindowSeconds float64

	MinSpeed float64
	MaxSpeed float64

	// ReducedMotion forces linear easing on every hop.
	ReducedMotion bool

	// SweepSeconds is the frame-time interval between stray visual sweeps.
	// Zero disables the sweep.
	SweepSeconds float64
	// AnchorStallSeconds is how long a hop may wait on unresolved anchors
	// before a stall diagnostic is raised.
	AnchorStallSeconds float64
	// AnchorMoveEpsilon is the endpoint displacement that triggers a rebuild
	// of a computed path.
	AnchorMoveEpsilon float64
	// AnchorSuffix is appended to an anchor name when the exact lookup fails.
	AnchorSuffix string
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultTravelSeconds: 1.6,
		SlowdownFactor:       1.3,
		MinTravelSeconds:     0.05,
		PathSamples:          101,
		LiftFactor:           0.35,
		MinLift:              0.25,
		MaxLift:              1.5,
		EaseWindowSeconds:    0.3,
		MinSpeed:             0.1,
		MaxSpeed:             4,
		SweepSeconds:         1,
		AnchorStallSeconds:   3,
		AnchorMoveEpsilon:    1e-4,
		AnchorSuffix:         "-center",
	}
}

// ApplyDefaults fills zero, negative or non-finite fields from
// DefaultEngineConfig. ReducedMotion and AnchorSuffix are kept as given,
// except that an empty suffix is replaced.
func (c EngineConfig) ApplyDefaults() EngineConfig {
	d := DefaultEngineConfig()
	positive := func(v *float64, def float64) {
		if !finite(*v) || *v <= 0 {
			*v = def
		}
	}
	positive(&c.DefaultTravelSeconds, d.DefaultTravelSeconds)
	positive(&c.SlowdownFactor, d.SlowdownFactor)
	positive(&c.MinTravelSeconds, d.MinTravelSeconds)
	positive(&c.LiftFactor, d.LiftFactor)
	positive(&c.MinLift, d.MinLift)
	positive(&c.MaxLift, d.MaxLift)
	positive(&c.EaseWindowSeconds, d.EaseWindowSeconds)
	positive(&c.MinSpeed, d.MinSpeed)
	positive(&c.MaxSpeed, d.MaxSpeed)
	positive(&c.AnchorStallSeconds, d.AnchorStallSeconds)
	positive(&c.AnchorMoveEpsilon, d.AnchorMoveEpsilon)
	if !finite(c.SweepSeconds) || c.SweepSeconds < 0 {
		c.SweepSeconds = d.SweepSeconds
	}
	if c.PathSamples < 2 {
		c.PathSamples = d.PathSamples
	}
	if c.MaxLift < c.MinLift {
		c.MaxLift = c.MinLift
	}
	if c.MaxSpeed < c.MinSpeed {
		c.MaxSpeed = c.MinSpeed
	}
	if c.AnchorSuffix == "" {
		c.AnchorSuffix = d.AnchorSuffix
	}
	return c
}

// TravelDuration returns the effective travel time in seconds for a nominal
// request value, substituting the default for unusable input.
func (c EngineConfig) TravelDuration(travelSeconds float64) float64 {
	if !finite(travelSeconds) || travelSeconds <= 0 {
		travelSeconds = c.DefaultTravelSeconds
	}
	return math.Max(c.MinTravelSeconds, travelSeconds*c.SlowdownFactor)
}

// ClampSpeed bounds a speed multiplier to [MinSpeed, MaxSpeed].
func (c EngineConfig) ClampSpeed(speed float64) float64 {
	if !finite(speed) {
		return 1
	}
	return clamp(speed, c.MinSpeed, c.MaxSpeed)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
