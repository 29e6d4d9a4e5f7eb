package weather

import (
	"time"

	"github.com/sony/gobreaker"

	logx "meshgate/pkg/logx"
)

// BreakerConfig tunes the per-upstream circuit breaker.
type BreakerConfig struct {
	// Failures is the consecutive failure count that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration
}

func newBreaker(name string, cfg BreakerConfig, log logx.Logger) *gobreaker.CircuitBreaker {
	if cfg.Failures == 0 {
		cfg.Failures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}
