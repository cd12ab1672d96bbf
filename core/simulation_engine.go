package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/netsec-simulator/internal/logging"
)

// SimulationEngine drives one frame of the scene: anchor motion first, then
// the hop coordinator, then tick listeners.
type SimulationEngine struct {
	Coordinator   *Coordinator
	Motion        *MotionModel
	log           logging.Logger
	simTime       float64
	tickListeners []func(simTime, delta float64)
}

// EngineOption customises SimulationEngine construction.
type EngineOption func(*SimulationEngine)

// WithMotionModel moves anchors before each coordinator frame.
func WithMotionModel(m *MotionModel) EngineOption {
	return func(se *SimulationEngine) { se.Motion = m }
}

// WithEngineLogger attaches a logger for motion failures.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

func NewSimulationEngine(c *Coordinator, opts ...EngineOption) *SimulationEngine {
	se := &SimulationEngine{
		Coordinator: c,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

func (se *SimulationEngine) RegisterTickListener(fn func(simTime, delta float64)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// SimTime returns the simulation time of the last tick.
func (se *SimulationEngine) SimTime() float64 { return se.simTime }

// Tick runs one frame at simTime with delta wall seconds since the previous
// frame. Motion errors are logged and returned but do not skip the frame.
func (se *SimulationEngine) Tick(simTime, delta float64) error {
	se.simTime = simTime
	var err error
	if se.Motion != nil {
		if err = se.Motion.UpdatePositions(simTime); err != nil {
			se.log.Warn(context.Background(), "anchor motion update failed",
				logging.Float("sim_time", simTime),
				logging.Err(err),
			)
		}
	}
	if se.Coordinator != nil {
		se.Coordinator.Advance(delta)
	}
	for _, fn := range se.tickListeners {
		fn(simTime, delta)
	}
	return err
}

// Run executes ticks frames of fixed delta starting from the current
// simulation time.
func (se *SimulationEngine) Run(ticks int, delta float64) error {
	for tick := 0; tick < ticks; tick++ {
		if err := se.Tick(se.simTime+delta, delta); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	return nil
}
