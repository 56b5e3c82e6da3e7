package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/config"
	"github.com/dokzlo13/towerd/internal/metrics"
)

// ReadyChecker reports whether the controller is serving.
type ReadyChecker interface {
	Ready() bool
}

// LinkChecker reports whether the serial port is open.
type LinkChecker interface {
	Connected() bool
}

// HealthService provides HTTP health check and metrics endpoints.
type HealthService struct {
	cfg    *config.Config
	ready  ReadyChecker
	link   LinkChecker
	server *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, ready ReadyChecker, link LinkChecker) *HealthService {
	return &HealthService{
		cfg:   cfg,
		ready: ready,
		link:  link,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Handler returns the health check routes.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	// Ready once the controller is initialized; the serial link state is informational
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status": "ready",
			"serial": s.link.Connected(),
		}
		if !s.ready.Ready() {
			body["status"] = "starting"
			writeStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		writeStatus(w, http.StatusOK, body)
	})

	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func writeStatus(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.GetHost(), s.cfg.Healthcheck.GetPort())

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
