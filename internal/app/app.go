package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/config"
)

// App owns the services and their lifecycle. A fatal service error cancels the
// app context with that error as the cause.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel(err)
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().Msg("towerd started")
	return nil
}

// Stop shuts down all services. It returns the fatal error that ended the app,
// if any, so the process exits non-zero and its supervisor restarts it.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	var fatal error
	if a.cancel != nil {
		if cause := context.Cause(a.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			fatal = cause
		}
		a.cancel(context.Canceled)
	}

	if a.services != nil {
		if err := a.services.Stop(); err != nil {
			return errors.Join(fatal, err)
		}
	}

	if fatal != nil {
		return fmt.Errorf("stopped after fatal error: %w", fatal)
	}
	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
