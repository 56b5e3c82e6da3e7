package lamp

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Pins names the GPIO lines of each lamp (e.g. "GPIO17").
type Pins struct {
	Green  string
	Red    string
	Yellow string
}

// periphOutput drives lamps through periph GPIO pins.
type periphOutput struct {
	green  gpio.PinOut
	red    gpio.PinOut
	yellow gpio.PinOut
}

// NewPeriph resolves the pins by name and switches them all off.
// The periph host must already be initialized.
func NewPeriph(pins Pins) (Output, error) {
	green, err := outPin(pins.Green)
	if err != nil {
		return nil, err
	}
	red, err := outPin(pins.Red)
	if err != nil {
		return nil, err
	}
	yellow, err := outPin(pins.Yellow)
	if err != nil {
		return nil, err
	}

	o := &periphOutput{green: green, red: red, yellow: yellow}
	if err := o.Set(Levels{}); err != nil {
		return nil, err
	}
	return o, nil
}

func outPin(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// Set writes all three lamp levels.
func (o *periphOutput) Set(levels Levels) error {
	if err := o.green.Out(gpio.Level(levels.Green)); err != nil {
		return fmt.Errorf("failed to drive green lamp: %w", err)
	}
	if err := o.red.Out(gpio.Level(levels.Red)); err != nil {
		return fmt.Errorf("failed to drive red lamp: %w", err)
	}
	if err := o.yellow.Out(gpio.Level(levels.Yellow)); err != nil {
		return fmt.Errorf("failed to drive yellow lamp: %w", err)
	}
	return nil
}
