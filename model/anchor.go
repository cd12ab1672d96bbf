package model

// MotionKind selects how an anchor's position evolves over simulation time.
type MotionKind int

const (
	MotionStatic MotionKind = iota
	MotionOrbit             // circle in the XZ plane around Center
	MotionPatrol            // ping-pong between two points
)

// Anchor is a named reference point in the scene, typically the centre of a
// device (desktop, firewall, server) or a port on it.
type Anchor struct {
	Name     string
	Device   string // owning device, free-form; empty for loose anchors
	Position Vec3
}

// MotionSpec describes the motion model attached to an anchor. Fields that do
// not apply to Kind are ignored.
type MotionSpec struct {
	Kind MotionKind

	Center Vec3
	Radius float64

	From Vec3
	To   Vec3

	PeriodSeconds float64
	PhaseSeconds  float64
}
