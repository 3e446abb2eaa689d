package llm

import (
	"context"
	"time"
)

// throttle applies a fixed minimum-interval delay before every outbound call.
// This is deliberately not a token bucket: each call pays 1/maxRPS up front,
// which keeps the steady-state rate under the cap without any shared clock
// state between calls.
type throttle struct {
	interval time.Duration
}

// newThrottle builds a throttle from a requests-per-second cap. A cap of zero
// or less disables throttling.
func newThrottle(maxRPS int) throttle {
	if maxRPS <= 0 {
		return throttle{}
	}
	return throttle{interval: time.Second / time.Duration(maxRPS)}
}

// wait blocks for the configured interval or until the context is cancelled.
func (t throttle) wait(ctx context.Context) error {
	if t.interval <= 0 {
		return nil
	}
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
