package live

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy is the reconnect schedule handed to clients in every
// snapshot. A channel that stays stale longer than Window is closed.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy mirrors the config defaults.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 6, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// Schedule returns the delay before each reconnect attempt. It is
// deterministic: exponential doubling with no jitter, capped at MaxBackoff.
func (p ReconnectPolicy) Schedule() []time.Duration {
	if p.MaxAttempts <= 0 || p.InitialBackoff <= 0 {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	delays := make([]time.Duration, 0, p.MaxAttempts)
	for i := 0; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

// Window is how long a participant has to come back before its stale
// channel is closed.
func (p ReconnectPolicy) Window() time.Duration {
	var total time.Duration
	for _, d := range p.Schedule() {
		total += d
	}
	return total
}

// Millis renders the schedule for the wire.
func (p ReconnectPolicy) Millis() []int64 {
	schedule := p.Schedule()
	out := make([]int64, len(schedule))
	for i, d := range schedule {
		out[i] = d.Milliseconds()
	}
	return out
}
