package sensor

import "github.com/dokzlo13/towerd/internal/settings"

// State represents the auto-mute state.
type State int

const (
	StateActive State = iota
	StateMuted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateMuted:
		return "muted"
	default:
		return "unknown"
	}
}

// Transition represents a change of the auto-mute state.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionMute
	TransitionUnmute
)

// String returns a human-readable name for the transition.
func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionMute:
		return "mute"
	case TransitionUnmute:
		return "unmute"
	default:
		return "unknown"
	}
}

// DetermineTransition decides whether the ambient reading moves the state machine.
// Readings inside [threshold-hysteresis, threshold+hysteresis] never transition.
func DetermineTransition(state State, ambient int, s settings.Values) Transition {
	lower, upper := deadZone(s)

	switch state {
	case StateActive:
		if ambient < lower {
			return TransitionMute
		}
	case StateMuted:
		if ambient > upper {
			return TransitionUnmute
		}
	}

	return TransitionNone
}

// deadZone returns the dead-zone bounds without wrapping: lower may be negative
// and upper may exceed AmbientMax.
func deadZone(s settings.Values) (lower, upper int) {
	return int(s.Threshold) - int(s.Hysteresis), int(s.Threshold) + int(s.Hysteresis)
}

// next returns the state after applying t.
func next(state State, t Transition) State {
	switch t {
	case TransitionMute:
		return StateMuted
	case TransitionUnmute:
		return StateActive
	default:
		return state
	}
}
