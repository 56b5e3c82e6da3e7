package watchdog

import (
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type countingKicker struct {
	kicks int
}

func (k *countingKicker) Kick() error {
	k.kicks++
	return nil
}

func TestSystemd_PacesNotifications(t *testing.T) {
	var states []string
	s := newSystemd(time.Hour, func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return true, nil
	})

	for i := 0; i < 50; i++ {
		if err := s.Kick(); err != nil {
			t.Fatalf("Kick() error = %v", err)
		}
	}

	if len(states) != 1 {
		t.Fatalf("notifications = %d, want 1 within the pacing window", len(states))
	}
	if states[0] != daemon.SdNotifyWatchdog {
		t.Errorf("state = %q, want %q", states[0], daemon.SdNotifyWatchdog)
	}
}

func TestSystemd_NotifyError(t *testing.T) {
	s := newSystemd(time.Second, func(bool, string) (bool, error) {
		return false, errors.New("socket gone")
	})
	if err := s.Kick(); err == nil {
		t.Error("Kick() error = nil, want notify failure")
	}
}

func TestGuard_ForwardsKicks(t *testing.T) {
	next := &countingKicker{}
	g := NewGuard(next, time.Second, nil)

	for i := 0; i < 3; i++ {
		g.Kick()
	}
	if next.kicks != 3 {
		t.Errorf("forwarded kicks = %d, want 3", next.kicks)
	}
}

func TestGuard_Check(t *testing.T) {
	now := time.Unix(5000, 0)
	var stalls []time.Duration

	g := NewGuard(nil, 2*time.Second, func(d time.Duration) {
		stalls = append(stalls, d)
	})
	g.now = func() time.Time { return now }
	g.Kick()

	tests := []struct {
		name     string
		advance  time.Duration
		kick     bool
		expected bool
	}{
		{name: "fresh", advance: 500 * time.Millisecond, expected: false},
		{name: "kicked_in_time", advance: 1500 * time.Millisecond, kick: true, expected: false},
		{name: "just_under", advance: 1999 * time.Millisecond, expected: false},
		{name: "expired", advance: 2 * time.Millisecond, expected: true},
	}

	for _, tt := range tests {
		now = now.Add(tt.advance)
		if tt.kick {
			g.Kick()
		}
		if got := g.check(); got != tt.expected {
			t.Errorf("%s: check() = %v, want %v", tt.name, got, tt.expected)
		}
	}

	if len(stalls) != 1 {
		t.Fatalf("stall callbacks = %d, want 1", len(stalls))
	}
	if stalls[0] < 2*time.Second {
		t.Errorf("stalled_for = %v, want >= 2s", stalls[0])
	}
}
