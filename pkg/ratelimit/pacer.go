// Package ratelimit paces Airtable API requests.
//
// Airtable allows 5 requests per second per base and answers with a 429 and a
// 30 second cool-down when the limit is exceeded. A Pacer is consulted before
// every request so the client stays below that limit instead of reacting to it.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum delay between two requests (5 req/s).
const DefaultInterval = 200 * time.Millisecond

// Pacer blocks until the next request may be sent.
type Pacer interface {
	// Wait returns nil once a request may be sent, or the context error.
	Wait(ctx context.Context) error
}

// LocalPacer enforces a minimum interval between requests within one process.
type LocalPacer struct {
	limiter *rate.Limiter
}

// NewLocalPacer creates a pacer that lets one request through per interval.
// The first request is never delayed. A non-positive interval disables pacing.
func NewLocalPacer(interval time.Duration) *LocalPacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &LocalPacer{
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait implements Pacer.
func (p *LocalPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NopPacer never delays.
type NopPacer struct{}

// Wait implements Pacer.
func (NopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}
