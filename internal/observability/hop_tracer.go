package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/netsec-simulator/core"
)

const tracerName = "github.com/signalsfoundry/netsec-simulator/hop"

// HopTracer turns hop lifecycle events into spans: one span per hop from
// launch to arrival or stop, with hold and pause milestones as span events.
// It must be fed from the frame loop like any other bus subscriber.
type HopTracer struct {
	tracer trace.Tracer
	spans  map[string]trace.Span
	unsubs []func()
}

// NewHopTracer subscribes to bus using tp, or the global provider when tp is
// nil.
func NewHopTracer(bus *core.Bus, tp trace.TracerProvider) *HopTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	t := &HopTracer{
		tracer: tp.Tracer(tracerName),
		spans:  make(map[string]trace.Span),
	}
	if bus == nil {
		return t
	}
	t.unsubs = append(t.unsubs,
		bus.Launch.Subscribe(t.onLaunch),
		bus.HoldStart.Subscribe(func(e core.HoldStartEvent) {
			t.event(e.PacketID, "hold.start", attribute.Float64("hop.clock", e.At))
		}),
		bus.HoldComplete.Subscribe(func(e core.HoldCompleteEvent) {
			t.event(e.PacketID, "hold.complete", attribute.String("hop.awaiting", e.Awaiting))
		}),
		bus.Pause.Subscribe(func(e core.PauseEvent) {
			t.event(e.PacketID, "pause", attribute.String("hop.phase", e.Phase.String()))
		}),
		bus.Resume.Subscribe(func(e core.ResumeEvent) {
			t.event(e.PacketID, "resume", attribute.String("hop.phase", e.Phase.String()))
		}),
		bus.Arrival.Subscribe(t.onArrival),
		bus.Stopped.Subscribe(t.onStopped),
	)
	return t
}

// Open returns the number of hops with an unfinished span.
func (t *HopTracer) Open() int { return len(t.spans) }

// Close unsubscribes from the bus and ends any open spans.
func (t *HopTracer) Close() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
	for id, span := range t.spans {
		span.SetStatus(codes.Error, "tracer closed before hop finished")
		span.End()
		delete(t.spans, id)
	}
}

func (t *HopTracer) onLaunch(e core.LaunchEvent) {
	if old, ok := t.spans[e.PacketID]; ok {
		old.End()
	}
	_, span := t.tracer.Start(context.Background(), "hop",
		trace.WithAttributes(
			attribute.String("packet.id", e.PacketID),
			attribute.String("packet.label", e.Label),
			attribute.String("packet.protocol", e.Protocol),
			attribute.Bool("packet.encrypted", e.Encrypted),
			attribute.String("hop.from", e.From),
			attribute.String("hop.to", e.To),
			attribute.Float64("hop.travel_seconds", e.Duration),
		),
	)
	t.spans[e.PacketID] = span
}

func (t *HopTracer) onArrival(e core.ArrivalEvent) {
	span, ok := t.take(e.PacketID)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.Float64("hop.flight_seconds", e.FlightSeconds),
		attribute.Bool("hop.forced", e.Forced),
	)
	span.End()
}

func (t *HopTracer) onStopped(e core.StoppedEvent) {
	span, ok := t.take(e.PacketID)
	if !ok {
		return
	}
	span.SetAttributes(
		attribute.String("hop.stop_reason", e.Reason),
		attribute.String("hop.phase", e.Phase.String()),
	)
	span.SetStatus(codes.Error, "stopped: "+e.Reason)
	span.End()
}

func (t *HopTracer) event(packetID, name string, attrs ...attribute.KeyValue) {
	if span, ok := t.spans[packetID]; ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (t *HopTracer) take(packetID string) (trace.Span, bool) {
	span, ok := t.spans[packetID]
	if ok {
		delete(t.spans, packetID)
	}
	return span, ok
}
