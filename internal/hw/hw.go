// Package hw selects and initializes the hardware drivers behind the lamp and sensor interfaces.
package hw

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/sensor"
)

// Driver names
const (
	DriverPeriph = "periph"
	DriverNoop   = "noop"
)

// Config selects the driver and its pins.
type Config struct {
	Driver string
	Pins   lamp.Pins
	ADC    string

	// StaticRaw is the raw sample reported by the noop driver's sensor.
	StaticRaw int
}

// Hardware is the set of initialized device drivers.
type Hardware struct {
	Output lamp.Output
	Source sensor.Source
}

// Open initializes the configured driver.
func Open(cfg Config) (*Hardware, error) {
	switch cfg.Driver {
	case DriverPeriph:
		return openPeriph(cfg)
	case DriverNoop, "":
		log.Warn().Int("ambient_raw", cfg.StaticRaw).Msg("Using no-op hardware driver")
		return &Hardware{
			Output: lamp.NewNoop(),
			Source: sensor.NewStatic(cfg.StaticRaw),
		}, nil
	default:
		return nil, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
	}
}

func openPeriph(cfg Config) (*Hardware, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	log.Info().
		Int("loaded", len(state.Loaded)).
		Int("failed", len(state.Failed)).
		Msg("Periph host initialized")

	out, err := lamp.NewPeriph(cfg.Pins)
	if err != nil {
		return nil, err
	}
	src, err := sensor.NewPeriphSource(cfg.ADC)
	if err != nil {
		return nil, err
	}
	return &Hardware{Output: out, Source: src}, nil
}
