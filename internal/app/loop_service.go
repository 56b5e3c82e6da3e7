package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/config"
	"github.com/dokzlo13/towerd/internal/controller"
	"github.com/dokzlo13/towerd/internal/lamp"
	"github.com/dokzlo13/towerd/internal/loop"
	"github.com/dokzlo13/towerd/internal/metrics"
	"github.com/dokzlo13/towerd/internal/serialport"
	"github.com/dokzlo13/towerd/internal/watchdog"
)

// LoopService owns the control loop goroutine.
type LoopService struct {
	cfg    *config.Config
	ctrl   *controller.Controller
	link   *serialport.Link
	output lamp.Output

	ready atomic.Bool
	wg    sync.WaitGroup
}

// NewLoopService creates a new LoopService.
func NewLoopService(cfg *config.Config, ctrl *controller.Controller, link *serialport.Link, output lamp.Output) *LoopService {
	return &LoopService{
		cfg:    cfg,
		ctrl:   ctrl,
		link:   link,
		output: output,
	}
}

// Ready reports whether the controller finished its first initialization.
func (s *LoopService) Ready() bool {
	return s.ready.Load()
}

// Start runs the loop in the background.
func (s *LoopService) Start(ctx context.Context, onFatalError func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(ctx, onFatalError); err != nil {
			onFatalError(err)
		}
	}()
}

// Wait blocks until the loop goroutine has exited.
func (s *LoopService) Wait() {
	s.wg.Wait()
}

func (s *LoopService) run(ctx context.Context, onFatalError func(error)) error {
	if err := s.ctrl.Reinitialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize controller: %w", err)
	}

	// The stall guard starts after the boot self-test, which outlasts its timeout
	kicker, err := s.kicker(ctx, onFatalError)
	if err != nil {
		return err
	}
	s.ready.Store(true)
	watchdog.Ready()

	runner := loop.NewRunner(loop.Options{
		Controller:    s.ctrl,
		Port:          s.link,
		Kicker:        kicker,
		Observer:      metrics.LoopObserver{},
		PollInterval:  s.cfg.Loop.PollInterval.Duration(),
		MaxLineLength: s.cfg.Serial.MaxLineLength,
		BodyTimeout:   s.cfg.Loop.BodyTimeout.Duration(),
	})
	runErr := runner.Run(ctx)

	s.ready.Store(false)
	watchdog.Stopping()
	if err := s.output.Set(lamp.Levels{}); err != nil {
		log.Warn().Err(err).Msg("Failed to switch lamps off")
	}
	return runErr
}

// kicker builds the keep-alive chain: systemd notifications behind an optional stall guard.
func (s *LoopService) kicker(ctx context.Context, onFatalError func(error)) (watchdog.Kicker, error) {
	var next watchdog.Kicker = watchdog.Noop{}
	if s.cfg.Watchdog.Systemd {
		k, err := watchdog.NewSystemd()
		if err != nil {
			return nil, err
		}
		next = k
	}

	timeout := s.cfg.Watchdog.Timeout.Duration()
	if timeout <= 0 {
		return next, nil
	}

	guard := watchdog.NewGuard(next, timeout, func(stalled time.Duration) {
		onFatalError(fmt.Errorf("control loop stalled for %s", stalled))
	})
	go guard.Run(ctx)
	return guard, nil
}
