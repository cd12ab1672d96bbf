package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoopCollector exposes frame loop and event stream metrics.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	FrameDuration  prometheus.Histogram
	Frames         prometheus.Counter
	StreamClients  prometheus.Gauge
	StreamDropped  prometheus.Counter
	StreamMessages prometheus.Counter
}

// NewLoopCollector registers loop metrics against the provided registerer.
func NewLoopCollector(reg prometheus.Registerer) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frameHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hopsim_frame_duration_seconds",
		Help:    "Wall time spent processing one frame (motion, hops, listeners).",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.033, 0.1},
	}), "hopsim_frame_duration_seconds")
	if err != nil {
		return nil, err
	}
	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_frames_total",
		Help: "Frames processed by the loop.",
	}), "hopsim_frames_total")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hopsim_stream_clients",
		Help: "Connected event stream clients.",
	}), "hopsim_stream_clients")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_stream_messages_dropped_total",
		Help: "Event stream messages dropped because a client queue was full.",
	}), "hopsim_stream_messages_dropped_total")
	if err != nil {
		return nil, err
	}
	messages, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_stream_messages_total",
		Help: "Lifecycle events broadcast on the event stream.",
	}), "hopsim_stream_messages_total")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:       gatherer,
		FrameDuration:  frameHistogram,
		Frames:         frames,
		StreamClients:  clients,
		StreamDropped:  dropped,
		StreamMessages: messages,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LoopCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveFrame records one processed frame.
func (c *LoopCollector) ObserveFrame(d time.Duration) {
	if c == nil {
		return
	}
	if c.FrameDuration != nil {
		c.FrameDuration.Observe(d.Seconds())
	}
	if c.Frames != nil {
		c.Frames.Inc()
	}
}

// SetStreamClients updates the connected client gauge.
func (c *LoopCollector) SetStreamClients(n int) {
	if c == nil || c.StreamClients == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}

// StreamBroadcast counts one broadcast event.
func (c *LoopCollector) StreamBroadcast() {
	if c == nil || c.StreamMessages == nil {
		return
	}
	c.StreamMessages.Inc()
}

// StreamDroppedMessage counts a message dropped for a slow client.
func (c *LoopCollector) StreamDroppedMessage() {
	if c == nil || c.StreamDropped == nil {
		return
	}
	c.StreamDropped.Inc()
}
