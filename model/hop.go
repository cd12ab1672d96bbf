package model

// Easing selects the progress curve of a hop.
type Easing int

const (
	// EasingDefault resolves to EasingInOut unless reduced motion is active.
	EasingDefault Easing = iota
	EasingLinear
	EasingInOut
	EasingOut
)

func (e Easing) String() string {
	switch e {
	case EasingLinear:
		return "linear"
	case EasingInOut:
		return "ease-in-out"
	case EasingOut:
		return "ease-out"
	default:
		return "default"
	}
}

// ParseEasing maps the lesson-file spelling of an easing to its value.
// Unknown names map to EasingDefault.
func ParseEasing(s string) Easing {
	switch s {
	case "linear":
		return EasingLinear
	case "ease-in-out", "easeInOut", "in-out":
		return EasingInOut
	case "ease-out", "easeOut", "out":
		return EasingOut
	default:
		return EasingDefault
	}
}

// ReleasePolicy decides what happens to a hop whose release event does not
// fire within its ReleaseTimeout.
type ReleasePolicy int

const (
	ReleaseForceArrival ReleasePolicy = iota
	ReleaseForceStop
)

// PacketMeta identifies a packet in lifecycle events.
type PacketMeta struct {
	PacketID  string
	Label     string
	Protocol  string // e.g. "HTTP", "TLS", "ESP"
	Encrypted bool
}

// Offset nudges a computed path endpoint away from its anchor: Distance units
// toward the Toward anchor (or the opposite endpoint when Toward is empty or
// missing) and Lift units up.
type Offset struct {
	Toward   string
	Distance float64
	Lift     float64
}

// HopRequest describes one animated traversal of a packet token. It is
// treated as immutable once handed to the coordinator.
type HopRequest struct {
	PacketID  string
	Label     string
	Protocol  string
	Encrypted bool

	From string
	To   string

	// Path overrides the computed curve when it holds at least two finite
	// points.
	Path []Vec3

	TravelSeconds float64
	Easing        Easing

	HoldSeconds        float64
	HoldUntil          string
	HoldCompleteSignal string

	StartOffset *Offset
	EndOffset   *Offset

	// ReleaseTimeout bounds the wait for HoldUntil. Zero waits forever.
	ReleaseTimeout float64
	ReleasePolicy  ReleasePolicy
}

// Meta returns the packet metadata carried by lifecycle events.
func (r HopRequest) Meta() PacketMeta {
	return PacketMeta{
		PacketID:  r.PacketID,
		Label:     r.Label,
		Protocol:  r.Protocol,
		Encrypted: r.Encrypted,
	}
}
