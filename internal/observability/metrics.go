package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/netsec-simulator/core"
)

// HopCollector bundles Prometheus metrics for the hop engine. It implements
// core.HopMetricsRecorder and is safe to use as a nil pointer.
type HopCollector struct {
	gatherer prometheus.Gatherer

	Launched      *prometheus.CounterVec
	Arrived       *prometheus.CounterVec
	FlightSeconds *prometheus.HistogramVec
	Stopped       *prometheus.CounterVec
	Refused       prometheus.Counter
	Stalled       prometheus.Counter
	ActiveHops    prometheus.Gauge
	StraysHidden  prometheus.Counter
}

var _ core.HopMetricsRecorder = (*HopCollector)(nil)

// NewHopCollector registers hop metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewHopCollector(reg prometheus.Registerer) (*HopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	launched, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hopsim_hops_launched_total",
		Help: "Hops whose path was built and token started moving, labeled by protocol.",
	}, []string{"protocol"}), "hopsim_hops_launched_total")
	if err != nil {
		return nil, err
	}
	arrived, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hopsim_hops_arrived_total",
		Help: "Hops that reached their destination, labeled by protocol.",
	}, []string{"protocol"}), "hopsim_hops_arrived_total")
	if err != nil {
		return nil, err
	}
	flight, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hopsim_hop_flight_seconds",
		Help:    "Frame time from launch to arrival, including holds and waits.",
		Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 30, 60},
	}, []string{"protocol"}), "hopsim_hop_flight_seconds")
	if err != nil {
		return nil, err
	}
	stopped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hopsim_hops_stopped_total",
		Help: "Hops terminated without arrival, labeled by reason.",
	}, []string{"reason"}), "hopsim_hops_stopped_total")
	if err != nil {
		return nil, err
	}
	refused, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_hops_refused_total",
		Help: "Launch requests refused because the packet ID already had a live hop.",
	}), "hopsim_hops_refused_total")
	if err != nil {
		return nil, err
	}
	stalled, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_hops_stalled_total",
		Help: "Hops that waited past the stall window for their anchors to mount.",
	}), "hopsim_hops_stalled_total")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hopsim_active_hops",
		Help: "Packet IDs currently owning a live hop.",
	}), "hopsim_active_hops")
	if err != nil {
		return nil, err
	}
	strays, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hopsim_stray_visuals_hidden_total",
		Help: "Packet visuals hidden by the stray sweep.",
	}), "hopsim_stray_visuals_hidden_total")
	if err != nil {
		return nil, err
	}

	return &HopCollector{
		gatherer:      gatherer,
		Launched:      launched,
		Arrived:       arrived,
		FlightSeconds: flight,
		Stopped:       stopped,
		Refused:       refused,
		Stalled:       stalled,
		ActiveHops:    active,
		StraysHidden:  strays,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HopCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *HopCollector) HopLaunched(protocol string) {
	if c == nil || c.Launched == nil {
		return
	}
	c.Launched.WithLabelValues(protocolLabel(protocol)).Inc()
}

func (c *HopCollector) HopArrived(protocol string, flightSeconds float64) {
	if c == nil {
		return
	}
	label := protocolLabel(protocol)
	if c.Arrived != nil {
		c.Arrived.WithLabelValues(label).Inc()
	}
	if c.FlightSeconds != nil && flightSeconds >= 0 {
		c.FlightSeconds.WithLabelValues(label).Observe(flightSeconds)
	}
}

func (c *HopCollector) HopRefused() {
	if c == nil || c.Refused == nil {
		return
	}
	c.Refused.Inc()
}

func (c *HopCollector) HopStopped(reason string) {
	if c == nil || c.Stopped == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	c.Stopped.WithLabelValues(reason).Inc()
}

func (c *HopCollector) HopStalled() {
	if c == nil || c.Stalled == nil {
		return
	}
	c.Stalled.Inc()
}

// SetActiveHops updates the live hop gauge.
func (c *HopCollector) SetActiveHops(n int) {
	if c == nil || c.ActiveHops == nil {
		return
	}
	c.ActiveHops.Set(float64(n))
}

func (c *HopCollector) StrayVisualsHidden(n int) {
	if c == nil || c.StraysHidden == nil || n <= 0 {
		return
	}
	c.StraysHidden.Add(float64(n))
}

func protocolLabel(p string) string {
	if p == "" {
		return "unknown"
	}
	return p
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
