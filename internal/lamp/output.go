package lamp

import "github.com/rs/zerolog/log"

// Output drives the three physical lamps.
type Output interface {
	// Set switches every lamp to the given level.
	Set(levels Levels) error
}

// noop implements Output for hosts without lamp hardware
type noop struct{}

// NewNoop creates an Output that only logs.
func NewNoop() Output {
	return noop{}
}

// Set logs the request but drives nothing
func (noop) Set(levels Levels) error {
	log.Debug().
		Bool("green", levels.Green).
		Bool("red", levels.Red).
		Bool("yellow", levels.Yellow).
		Msg("Lamp output not available (no-op)")
	return nil
}
