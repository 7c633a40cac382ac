package mqtt

import (
	"time"

	"github.com/akenza-io/mqtt-device/internal/infrastructure/config"
)

// Default retry policy values.
const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 6000 * time.Millisecond
	DefaultMultiplier      = 1.5
	DefaultMaxElapsed      = 900000 * time.Millisecond
)

// Policy is a bounded exponential backoff.
//
// The first wait is Initial. Each following wait is the previous one
// multiplied by Multiplier, truncated to whole milliseconds and capped at
// Max. Retrying stops once the sum of all waits reaches MaxElapsed.
// There is no jitter.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxElapsed time.Duration
}

// DefaultPolicy returns 500ms / ×1.5 / 6s cap / 15 minute budget.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    DefaultInitialInterval,
		Max:        DefaultMaxInterval,
		Multiplier: DefaultMultiplier,
		MaxElapsed: DefaultMaxElapsed,
	}
}

// PolicyFromConfig builds a Policy from the reconnect section of the config.
func PolicyFromConfig(cfg config.MQTTReconnectConfig) Policy {
	return Policy{
		Initial:    cfg.InitialInterval,
		Max:        cfg.MaxInterval,
		Multiplier: cfg.Multiplier,
		MaxElapsed: cfg.MaxElapsed,
	}
}

// Next returns the wait that follows current.
func (p Policy) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier).Truncate(time.Millisecond)
	if next > p.Max {
		return p.Max
	}
	return next
}

// Exhausted reports whether no more retries are allowed after waiting
// elapsed in total.
func (p Policy) Exhausted(elapsed time.Duration) bool {
	return elapsed >= p.MaxElapsed
}

// Sequence returns the first n waits of the policy.
func (p Policy) Sequence(n int) []time.Duration {
	if n <= 0 {
		return nil
	}

	seq := make([]time.Duration, n)
	interval := p.Initial
	for i := range seq {
		seq[i] = interval
		interval = p.Next(interval)
	}
	return seq
}
