package provider

import (
	"context"
	"time"

	"github.com/iosfx/autoservice/internal/core"
	"github.com/iosfx/autoservice/internal/metrics"
)

// Instrumented wraps another provider and records send latency. Failed sends
// are observed too; carrier latency matters either way. Wrap inside any rate
// limiter so queue wait time is not counted as carrier time.
type Instrumented struct {
	inner core.MessagingProvider
}

func NewInstrumented(inner core.MessagingProvider) *Instrumented {
	return &Instrumented{inner: inner}
}

func (p *Instrumented) Name() string { return p.inner.Name() }

func (p *Instrumented) SendMessage(ctx context.Context, phone, content string, channel core.Channel) error {
	start := time.Now()
	err := p.inner.SendMessage(ctx, phone, content, channel)
	metrics.ProviderSendDuration.Observe(time.Since(start).Seconds())
	return err
}
