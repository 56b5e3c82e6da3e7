// Package loop runs the single control loop that owns the controller.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/controller"
	"github.com/dokzlo13/towerd/internal/protocol"
	"github.com/dokzlo13/towerd/internal/watchdog"
)

// Defaults
const (
	DefaultPollInterval = 20 * time.Millisecond
	DefaultBodyTimeout  = time.Second
	readChunk           = 64
)

// Observer is told how long each iteration took.
type Observer interface {
	ObserveIteration(d time.Duration)
}

// Options configures a Runner.
type Options struct {
	Controller    *controller.Controller
	Port          io.ReadWriter
	Kicker        watchdog.Kicker // optional
	Observer      Observer        // optional
	PollInterval  time.Duration
	MaxLineLength int
	// BodyTimeout ends a request whose body stops arriving: it is served with the
	// bytes received so far.
	BodyTimeout   time.Duration
}

// Runner performs loop iterations: keep-alive, drain available input and dispatch the
// completed requests, then one sensor poll.
type Runner struct {
	ctrl     *controller.Controller
	port     io.ReadWriter
	kicker   watchdog.Kicker
	observer Observer
	parser   *protocol.Parser
	interval time.Duration
	buf      []byte

	bodyTimeout time.Duration
	lastInput   time.Time
	now         func() time.Time
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	kicker := opts.Kicker
	if kicker == nil {
		kicker = watchdog.Noop{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	bodyTimeout := opts.BodyTimeout
	if bodyTimeout <= 0 {
		bodyTimeout = DefaultBodyTimeout
	}
	return &Runner{
		ctrl:        opts.Controller,
		port:        opts.Port,
		kicker:      kicker,
		observer:    opts.Observer,
		parser:      protocol.NewParser(opts.MaxLineLength),
		interval:    interval,
		buf:         make([]byte, readChunk),
		bodyTimeout: bodyTimeout,
		now:         time.Now,
	}
}

// Run iterates on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Dur("poll_interval", r.interval).Msg("Control loop started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Control loop stopped")
			return nil
		case <-ticker.C:
			if err := r.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step runs one iteration. Only a failed read of the input stream is returned;
// everything else is logged and the loop carries on.
func (r *Runner) Step(ctx context.Context) error {
	start := time.Now()

	if err := r.kicker.Kick(); err != nil {
		log.Warn().Err(err).Msg("Watchdog keep-alive failed")
	}

	if err := r.drain(ctx); err != nil {
		return err
	}
	r.expire(ctx)

	if err := r.ctrl.Poll(); err != nil {
		log.Warn().Err(err).Msg("Sensor poll failed")
	}

	if r.observer != nil {
		r.observer.ObserveIteration(time.Since(start))
	}
	return nil
}

// drain reads whatever input is available and serves the requests it completes.
func (r *Runner) drain(ctx context.Context) error {
	for {
		n, err := r.port.Read(r.buf)
		if n > 0 {
			r.lastInput = r.now()
			r.feed(ctx, r.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if n < len(r.buf) {
			return nil
		}
	}
}

// feed answers every request and parse error in data in stream order.
func (r *Runner) feed(ctx context.Context, data []byte) {
	for _, res := range r.parser.Feed(data) {
		if res.Err != nil {
			if err := r.ctrl.Reject(r.port, res.Err); err != nil {
				log.Error().Err(err).Msg("Failed to reject request")
			}
			continue
		}
		r.serve(ctx, res.Request)
	}
}

// expire serves a request whose body has not progressed within the body timeout.
func (r *Runner) expire(ctx context.Context) {
	if !r.parser.Pending() || r.now().Sub(r.lastInput) < r.bodyTimeout {
		return
	}
	req, ok := r.parser.Expire()
	if !ok {
		return
	}
	log.Warn().
		Str("path", req.Path).
		Int("content_length", req.ContentLength).
		Int("received", len(req.Body)).
		Msg("Request body timed out")
	r.serve(ctx, req)
}

func (r *Runner) serve(ctx context.Context, req protocol.Request) {
	if _, err := r.ctrl.Serve(ctx, r.port, req); err != nil {
		log.Error().Err(err).Str("path", req.Path).Msg("Failed to serve request")
	}
}
