package lamp

import (
	"context"
	"time"
)

// Power-on self-test timing
const (
	DefaultSelfTestRounds = 4
	DefaultSelfTestStep   = 200 * time.Millisecond
)

// SelfTest blinks green, yellow and red in turn for the given number of rounds,
// leaving every lamp off. It stops early if ctx is cancelled.
func SelfTest(ctx context.Context, out Output, rounds int, step time.Duration) error {
	sequence := []Levels{{Green: true}, {Yellow: true}, {Red: true}}

	for i := 0; i < rounds; i++ {
		for _, levels := range sequence {
			if err := out.Set(levels); err != nil {
				return err
			}
			if err := sleep(ctx, step); err != nil {
				_ = out.Set(Levels{})
				return err
			}
		}
	}
	return out.Set(Levels{})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
