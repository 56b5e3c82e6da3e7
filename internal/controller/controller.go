// Package controller owns the lamp state, the settings and the auto-mute monitor, and
// serves protocol requests against them.
package controller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/eventbus"
	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/sensor"
	"github.com/dokzlo13/towerd/internal/settings"
)

// SelfTestFunc runs the power-on lamp sequence.
type SelfTestFunc func(ctx context.Context, out lamp.Output) error

// Options holds the collaborators of a Controller.
type Options struct {
	Settings  *settings.Store
	Output    lamp.Output
	Source    sensor.Source
	SelfTest  SelfTestFunc       // optional
	Publisher eventbus.Publisher // optional
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Lamps    lamp.State
	Settings settings.Values
	Ambient  int
	State    sensor.State
}

// Controller is the single owner of all mutable device state.
// It is not safe for concurrent use: one loop goroutine drives it.
type Controller struct {
	settings *settings.Store
	lamps    lamp.State
	monitor  *sensor.Monitor
	out      lamp.Output
	selfTest SelfTestFunc
	pub      eventbus.Publisher
}

// New creates a controller. Call Reinitialize before serving requests.
func New(opts Options) *Controller {
	pub := opts.Publisher
	if pub == nil {
		pub = discard{}
	}
	return &Controller{
		settings: opts.Settings,
		monitor:  sensor.NewMonitor(opts.Source),
		out:      opts.Output,
		selfTest: opts.SelfTest,
		pub:      pub,
	}
}

// Reinitialize reloads the settings (re-validating the marker), resets the lamps and the
// auto-mute state, runs the self-test and pushes the outputs. It runs at boot and on /reset.
func (c *Controller) Reinitialize(ctx context.Context) error {
	initialized, err := c.settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	c.lamps.Reset()
	c.monitor.Reset()

	if c.selfTest != nil {
		if err := c.selfTest(ctx, c.out); err != nil {
			log.Warn().Err(err).Msg("Lamp self-test failed")
		}
	}
	c.pushOutputs()

	values := c.settings.Current()
	log.Info().
		Bool("defaults_written", initialized).
		Uint8("threshold", values.Threshold).
		Uint8("hysteresis", values.Hysteresis).
		Msg("Controller initialized")

	c.pub.Publish(eventbus.Event{
		Type: eventbus.EventTypeReset,
		Data: map[string]any{
			"defaults_written": initialized,
			"threshold":        values.Threshold,
			"hysteresis":       values.Hysteresis,
		},
	})
	return nil
}

// Poll runs one sensor sample and hysteresis evaluation.
func (c *Controller) Poll() error {
	previous := c.monitor.Ambient()

	t, err := c.monitor.Poll(c.settings.Current(), &c.lamps)
	if err != nil {
		return err
	}

	ambient := c.monitor.Ambient()
	if ambient != previous {
		c.pub.Publish(eventbus.Event{
			Type: eventbus.EventTypeAmbient,
			Data: map[string]any{"ambient": ambient},
		})
	}

	if t == sensor.TransitionNone {
		return nil
	}

	c.pushOutputs()
	log.Info().
		Str("transition", t.String()).
		Int("ambient", ambient).
		Msg("Auto-mute state changed")
	c.pub.Publish(eventbus.Event{
		Type: eventbus.EventTypeMute,
		Data: map[string]any{
			"muted":   c.lamps.Mute,
			"ambient": ambient,
		},
	})
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Lamps:    c.lamps,
		Settings: c.settings.Current(),
		Ambient:  c.monitor.Ambient(),
		State:    c.monitor.State(),
	}
}

// pushOutputs drives the lamps to the effective output.
func (c *Controller) pushOutputs() {
	if err := c.out.Set(c.lamps.Effective()); err != nil {
		log.Error().Err(err).Msg("Failed to drive lamp outputs")
	}
}

// publishLeds announces the current lamp state.
func (c *Controller) publishLeds() {
	c.pub.Publish(eventbus.Event{
		Type: eventbus.EventTypeLeds,
		Data: map[string]any{
			"green":  c.lamps.Green,
			"yellow": c.lamps.Yellow,
			"red":    c.lamps.Red,
			"muted":  c.lamps.Mute,
		},
	})
}

// discard drops events when no bus is wired.
type discard struct{}

func (discard) Publish(eventbus.Event) {}
