package provider

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/iosfx/autoservice/internal/core"
)

// RateLimited wraps another provider with a process-wide send rate limit so
// batch dispatch cannot exceed the carrier's SLA.
type RateLimited struct {
	inner   core.MessagingProvider
	limiter *rate.Limiter
}

func NewRateLimited(inner core.MessagingProvider, qps float64, burst int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (r *RateLimited) Name() string { return r.inner.Name() + "+ratelimit" }

func (r *RateLimited) SendMessage(ctx context.Context, phone, content string, channel core.Channel) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err // context canceled: unexpected, not a provider failure
	}
	return r.inner.SendMessage(ctx, phone, content, channel)
}
