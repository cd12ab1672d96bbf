package eventstream

import (
	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/model"
)

// Message types sent to clients.
const (
	TypeHello        = "hello"
	TypeLaunch       = "launch"
	TypePause        = "pause"
	TypeResume       = "resume"
	TypeHoldStart    = "holdStart"
	TypeHoldComplete = "holdComplete"
	TypeArrival      = "arrival"
	TypeStopped      = "stopped"
	TypeStalled      = "stalled"
	TypeSignal       = "signal"
	TypeError        = "error"
)

// ProtocolVersion is reported in the hello message.
const ProtocolVersion = 1

// Vec is the wire form of model.Vec3.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func toVec(v model.Vec3) *Vec { return &Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Message is one JSON frame on the stream. Fields not relevant to Type are
// omitted.
type Message struct {
	Type     string `json:"type"`
	Version  int    `json:"ver,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	PacketID  string `json:"packet_id,omitempty"`
	Label     string `json:"label,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty"`

	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Start      *Vec     `json:"start,omitempty"`
	End        *Vec     `json:"end,omitempty"`
	Position   *Vec     `json:"position,omitempty"`
	Duration   float64  `json:"duration,omitempty"`
	Phase      string   `json:"phase,omitempty"`
	At         float64  `json:"at,omitempty"`
	Awaiting   string   `json:"awaiting,omitempty"`
	Signal     string   `json:"signal,omitempty"`
	Flight     float64  `json:"flight_seconds,omitempty"`
	Forced     bool     `json:"forced,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Unlaunched bool     `json:"unlaunched,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Waited     float64  `json:"waited_seconds,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func packetMessage(typ string, meta model.PacketMeta) Message {
	return Message{
		Type:      typ,
		PacketID:  meta.PacketID,
		Label:     meta.Label,
		Protocol:  meta.Protocol,
		Encrypted: meta.Encrypted,
	}
}

func launchMessage(e core.LaunchEvent) Message {
	m := packetMessage(TypeLaunch, e.PacketMeta)
	m.From, m.To = e.From, e.To
	m.Start, m.End = toVec(e.Start), toVec(e.End)
	m.Duration = e.Duration
	return m
}

func pauseMessage(e core.PauseEvent) Message {
	m := packetMessage(TypePause, e.PacketMeta)
	m.Phase = e.Phase.String()
	return m
}

func resumeMessage(e core.ResumeEvent) Message {
	m := packetMessage(TypeResume, e.PacketMeta)
	m.Phase = e.Phase.String()
	return m
}

func holdStartMessage(e core.HoldStartEvent) Message {
	m := packetMessage(TypeHoldStart, e.PacketMeta)
	m.From, m.To = e.From, e.To
	m.Position = toVec(e.Position)
	m.At = e.At
	return m
}

func holdCompleteMessage(e core.HoldCompleteEvent) Message {
	m := packetMessage(TypeHoldComplete, e.PacketMeta)
	m.Awaiting, m.Signal = e.Awaiting, e.Signal
	return m
}

func arrivalMessage(e core.ArrivalEvent) Message {
	m := packetMessage(TypeArrival, e.PacketMeta)
	m.Position = toVec(e.Position)
	m.Flight, m.Forced = e.FlightSeconds, e.Forced
	return m
}

func stoppedMessage(e core.StoppedEvent) Message {
	m := packetMessage(TypeStopped, e.PacketMeta)
	m.Reason = e.Reason
	m.Phase = e.Phase.String()
	m.Unlaunched = !e.Launched
	return m
}

func stalledMessage(e core.StalledEvent) Message {
	m := packetMessage(TypeStalled, e.PacketMeta)
	m.Missing = e.Missing
	m.Waited = e.Waited
	return m
}

// ClientMessage is what clients may send: a named signal to fire, or a
// playback control ("pause", "resume", "toggle", "speed" with Value).
type ClientMessage struct {
	Signal  string   `json:"signal,omitempty"`
	Control string   `json:"control,omitempty"`
	Value   *float64 `json:"value,omitempty"`
}
