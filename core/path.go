package core

import (
	"math"

	"github.com/signalsfoundry/netsec-simulator/model"
)

// Path is a fixed-resolution discretised hop trajectory.
type Path struct {
	samples []model.Vec3
}

// Len returns the number of samples.
func (p Path) Len() int { return len(p.samples) }

// Samples returns a copy of the samples.
func (p Path) Samples() []model.Vec3 {
	return append([]model.Vec3(nil), p.samples...)
}

// First returns the first sample, or the zero vector for an empty path.
func (p Path) First() model.Vec3 {
	if len(p.samples) == 0 {
		return model.Vec3{}
	}
	return p.samples[0]
}

// Last returns the final sample, or the zero vector for an empty path.
func (p Path) Last() model.Vec3 {
	if len(p.samples) == 0 {
		return model.Vec3{}
	}
	return p.samples[len(p.samples)-1]
}

// At returns the position at progress in [0,1] by interpolating between the
// two samples bracketing progress*(N-1). At(1) is the last sample exactly.
func (p Path) At(progress float64) model.Vec3 {
	n := len(p.samples)
	switch n {
	case 0:
		return model.Vec3{}
	case 1:
		return p.samples[0]
	}
	f := clamp01(progress) * float64(n-1)
	i := int(math.Floor(f))
	if i >= n-1 {
		return p.samples[n-1]
	}
	return p.samples[i].Lerp(p.samples[i+1], f-float64(i))
}

// PathSampler builds paths of a fixed sample count.
type PathSampler struct {
	Samples    int
	LiftFactor float64
	MinLift    float64
	MaxLift    float64
}

// NewPathSampler copies the path settings out of cfg.
func NewPathSampler(cfg EngineConfig) PathSampler {
	cfg = cfg.ApplyDefaults()
	return PathSampler{
		Samples:    cfg.PathSamples,
		LiftFactor: cfg.LiftFactor,
		MinLift:    cfg.MinLift,
		MaxLift:    cfg.MaxLift,
	}
}

// Lift returns the arc height for a hop between start and end.
func (s PathSampler) Lift(start, end model.Vec3) float64 {
	return clamp(start.DistanceTo(end)*s.LiftFactor, s.MinLift, s.MaxLift)
}

// Control returns the quadratic control point: the horizontal midpoint raised
// above the higher endpoint.
func (s PathSampler) Control(start, end model.Vec3) model.Vec3 {
	mid := start.Lerp(end, 0.5)
	mid.Y = math.Max(start.Y, end.Y) + s.Lift(start, end)
	return mid
}

// Curve samples the quadratic arc from start to end.
func (s PathSampler) Curve(start, end model.Vec3) Path {
	n := s.count()
	ctrl := s.Control(start, end)
	out := make([]model.Vec3, n)
	for i := range n {
		t := float64(i) / float64(n-1)
		u := 1 - t
		out[i] = start.Scale(u * u).Add(ctrl.Scale(2 * u * t)).Add(end.Scale(t * t))
	}
	out[0] = start
	out[n-1] = end
	return Path{samples: out}
}

// Explicit resamples a caller-supplied polyline by arc length. Non-finite
// points are dropped first; ok is false when fewer than two remain.
func (s PathSampler) Explicit(points []model.Vec3) (path Path, ok bool) {
	pts := FilterPoints(points)
	if len(pts) < 2 {
		return Path{}, false
	}
	n := s.count()

	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + pts[i-1].DistanceTo(pts[i])
	}
	total := cum[len(cum)-1]

	out := make([]model.Vec3, n)
	seg := 1
	for i := range n {
		if total == 0 {
			out[i] = pts[0]
			continue
		}
		target := total * float64(i) / float64(n-1)
		for seg < len(pts)-1 && cum[seg] < target {
			seg++
		}
		span := cum[seg] - cum[seg-1]
		frac := 0.0
		if span > 0 {
			frac = (target - cum[seg-1]) / span
		}
		out[i] = pts[seg-1].Lerp(pts[seg], clamp01(frac))
	}
	out[0] = pts[0]
	out[n-1] = pts[len(pts)-1]
	return Path{samples: out}, true
}

func (s PathSampler) count() int {
	if s.Samples < 2 {
		return DefaultEngineConfig().PathSamples
	}
	return s.Samples
}

// FilterPoints returns the finite points of pts in order.
func FilterPoints(pts []model.Vec3) []model.Vec3 {
	out := make([]model.Vec3, 0, len(pts))
	for _, p := range pts {
		if p.IsFinite() {
			out = append(out, p)
		}
	}
	return out
}

// applyOffset nudges endpoint toward target by off.Distance and lifts it.
func applyOffset(endpoint, target model.Vec3, off *model.Offset) model.Vec3 {
	if off == nil {
		return endpoint
	}
	out := endpoint
	if finite(off.Distance) && off.Distance != 0 {
		out = out.Add(target.Sub(endpoint).Normalize().Scale(off.Distance))
	}
	if finite(off.Lift) {
		out.Y += off.Lift
	}
	return out
}
