// Package watchdog keeps the process supervisor informed that the control loop is alive.
package watchdog

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Kicker receives one keep-alive per loop iteration.
type Kicker interface {
	Kick() error
}

// Noop discards keep-alives.
type Noop struct{}

// Kick does nothing.
func (Noop) Kick() error { return nil }

// notifyFunc matches daemon.SdNotify.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

// Systemd forwards keep-alives to systemd as WATCHDOG=1 notifications.
// The loop kicks far more often than systemd needs, so notifications are paced to
// twice per WatchdogSec.
type Systemd struct {
	limiter *rate.Limiter
	notify  notifyFunc
}

// NewSystemd returns a systemd kicker, or Noop when the unit has no WatchdogSec.
func NewSystemd() (Kicker, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return nil, fmt.Errorf("failed to read systemd watchdog settings: %w", err)
	}
	if interval == 0 {
		log.Info().Msg("Systemd watchdog not configured, keep-alives disabled")
		return Noop{}, nil
	}

	log.Info().Dur("interval", interval).Msg("Systemd watchdog enabled")
	return newSystemd(interval, daemon.SdNotify), nil
}

func newSystemd(interval time.Duration, notify notifyFunc) *Systemd {
	return &Systemd{
		limiter: rate.NewLimiter(rate.Every(interval/2), 1),
		notify:  notify,
	}
}

// Kick sends WATCHDOG=1 unless one was sent within the pacing window.
func (s *Systemd) Kick() error {
	if !s.limiter.Allow() {
		return nil
	}
	if _, err := s.notify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to notify systemd watchdog: %w", err)
	}
	return nil
}

// Ready tells systemd that startup finished. It is a no-op outside systemd.
func Ready() {
	notifyState(daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func Stopping() {
	notifyState(daemon.SdNotifyStopping)
}

func notifyState(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("Failed to notify systemd")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("Notified systemd")
	}
}
