package sensor

import (
	"fmt"

	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/settings"
)

// Source provides raw ambient samples in [0, RawMax].
type Source interface {
	Sample() (int, error)
}

// Monitor samples the sensor and keeps the auto-mute state.
type Monitor struct {
	source  Source
	state   State
	ambient int
}

// NewMonitor creates a monitor in the Active state.
func NewMonitor(source Source) *Monitor {
	return &Monitor{
		source: source,
		state:  StateActive,
	}
}

// Poll takes one sample, updates the ambient value and evaluates the state machine.
// On a transition lamps.Mute is updated; the caller pushes the new effective output.
func (m *Monitor) Poll(s settings.Values, lamps *lamp.State) (Transition, error) {
	raw, err := m.source.Sample()
	if err != nil {
		return TransitionNone, fmt.Errorf("failed to sample ambient sensor: %w", err)
	}
	m.ambient = MapAmbient(raw)

	t := DetermineTransition(m.state, m.ambient, s)
	if t != TransitionNone {
		m.state = next(m.state, t)
		lamps.Mute = m.state == StateMuted
	}
	return t, nil
}

// Ambient returns the last mapped reading.
func (m *Monitor) Ambient() int {
	return m.ambient
}

// State returns the current auto-mute state.
func (m *Monitor) State() State {
	return m.state
}

// Reset returns the state machine to Active.
func (m *Monitor) Reset() {
	m.state = StateActive
}
