package rest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Default pacing sits below the lowest published tier so a fresh key never
// trips the exchange limiter.
const (
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 1
)

// Gate throttles outbound REST calls. Every request issued through one
// client instance, market data included, passes through the same gate.
// Exceeding capacity delays the caller rather than failing.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate builds a gate admitting rps requests per second with the given
// burst. Non-positive values fall back to the conservative defaults.
func NewGate(rps float64, burst int) *Gate {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Gate{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a slot is available or the context is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate: %w", err)
	}
	return nil
}

// allowAt reports whether a request arriving at t would be admitted without
// waiting. Exists so tests can drive the token window deterministically.
func (g *Gate) allowAt(t time.Time) bool {
	return g.limiter.AllowN(t, 1)
}
