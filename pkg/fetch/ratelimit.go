package fetch

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a single global cadence between fetch starts. It
// is a token bucket with burst 1, so successive Wait calls return at
// least 1/requestsPerSecond apart. It bounds fetch throughput only;
// retry backoff sleeps are not accounted here.
type RateLimiter struct {
	limiter *rate.Limiter // nil when limiting is disabled
	log     *logrus.Entry
}

// NewRateLimiter creates a RateLimiter. requestsPerSecond <= 0 disables
// limiting entirely.
func NewRateLimiter(requestsPerSecond float64, log *logrus.Entry) *RateLimiter {
	rl := &RateLimiter{log: log}
	if requestsPerSecond > 0 {
		rl.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		log.Debugf("Rate limiter enabled at %.2f req/s", requestsPerSecond)
	}
	return rl
}

// Wait blocks until the next fetch may start, or until ctx is done.
// Call immediately before issuing the request.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.limiter == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}

// Enabled reports whether limiting is active.
func (rl *RateLimiter) Enabled() bool {
	return rl.limiter != nil
}
