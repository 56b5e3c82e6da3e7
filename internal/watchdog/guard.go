package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout applies when NewGuard is given no timeout.
const DefaultTimeout = 5 * time.Second

// Guard is an in-process watchdog: if no kick arrives within the timeout it calls
// onStall once. Kicks are forwarded to the wrapped Kicker.
type Guard struct {
	next     Kicker
	timeout  time.Duration
	onStall  func(stalledFor time.Duration)
	lastKick atomic.Int64
	now      func() time.Time
}

// NewGuard wraps next. A nil next is treated as Noop.
func NewGuard(next Kicker, timeout time.Duration, onStall func(stalledFor time.Duration)) *Guard {
	if next == nil {
		next = Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Guard{
		next:    next,
		timeout: timeout,
		onStall: onStall,
		now:     time.Now,
	}
	g.lastKick.Store(g.now().UnixNano())
	return g
}

// Kick records liveness and forwards it.
func (g *Guard) Kick() error {
	g.lastKick.Store(g.now().UnixNano())
	return g.next.Kick()
}

// Run checks for stalls until ctx is done or a stall is reported.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.check() {
				return
			}
		}
	}
}

// check reports a stall and returns true if the last kick is older than the timeout.
func (g *Guard) check() bool {
	stalled := g.now().Sub(time.Unix(0, g.lastKick.Load()))
	if stalled < g.timeout {
		return false
	}
	log.Error().Dur("stalled_for", stalled).Dur("timeout", g.timeout).Msg("Control loop stalled")
	if g.onStall != nil {
		g.onStall(stalled)
	}
	return true
}
