package core

import "github.com/signalsfoundry/netsec-simulator/model"

// VisualRef describes a scene visual tagged as an active packet token.
type VisualRef struct {
	ID       string
	PacketID string
	Visible  bool
}

// VisualScene is the presentation-side view the stray sweep works against.
type VisualScene interface {
	TaggedPacketVisuals() []VisualRef
	HideVisual(id string) bool
}

// TokenSink receives token placement from the engine. Implementations keep at
// most one token visual per packet ID.
type TokenSink interface {
	PlaceToken(packetID string, pos model.Vec3)
	RemoveToken(packetID string)
}

// SweepStrays hides every visible tagged visual whose packet is not active
// in reg, returning the IDs hidden.
func SweepStrays(scene VisualScene, reg *Registry) []string {
	if scene == nil || reg == nil {
		return nil
	}
	var hidden []string
	for _, v := range scene.TaggedPacketVisuals() {
		if !v.Visible || reg.Has(v.PacketID) {
			continue
		}
		if scene.HideVisual(v.ID) {
			hidden = append(hidden, v.ID)
		}
	}
	return hidden
}
