package core

import "github.com/signalsfoundry/netsec-simulator/model"

const (
	minEaseFraction = 0.08
	maxEaseFraction = 0.25
)

// EaseFunc maps a raw time fraction in [0,1] to a progress fraction in [0,1].
// Implementations are pure.
type EaseFunc func(t float64) float64

// NewEasing builds the progress curve for one hop. travelDuration (seconds)
// sizes the ramps of the ease-in-out curve; easeWindow is the nominal ramp
// length in seconds.
func NewEasing(kind model.Easing, travelDuration, easeWindow float64) EaseFunc {
	switch kind {
	case model.EasingLinear:
		return easeLinear
	case model.EasingOut:
		return easeOutCubic
	default:
		a := maxEaseFraction
		if travelDuration > 0 && finite(easeWindow) && easeWindow > 0 {
			a = clamp(easeWindow/travelDuration, minEaseFraction, maxEaseFraction)
		}
		return easeInOutTrapezoid(a)
	}
}

// ResolveEasing applies the default and reduced-motion rules.
func ResolveEasing(kind model.Easing, reducedMotion bool) model.Easing {
	if reducedMotion {
		return model.EasingLinear
	}
	if kind == model.EasingDefault {
		return model.EasingInOut
	}
	return kind
}

func easeLinear(t float64) float64 {
	return clamp01(t)
}

func easeOutCubic(t float64) float64 {
	t = clamp01(t)
	u := 1 - t
	return 1 - u*u*u
}

// easeInOutTrapezoid accelerates over the first a of the hop, cruises, and
// decelerates over the last a. Velocity is continuous and peaks at 1/(1-a).
func easeInOutTrapezoid(a float64) EaseFunc {
	v := 1 / (1 - a)
	return func(t float64) float64 {
		t = clamp01(t)
		switch {
		case t == 1:
			return 1
		case t < a:
			return v * t * t / (2 * a)
		case t > 1-a:
			u := 1 - t
			return 1 - v*u*u/(2*a)
		default:
			return v * (t - a/2)
		}
	}
}

func clamp01(t float64) float64 {
	if !finite(t) {
		if t > 0 {
			return 1
		}
		return 0
	}
	return clamp(t, 0, 1)
}
