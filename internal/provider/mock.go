package provider

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/iosfx/autoservice/internal/core"
)

// Mock is the deterministic test/development provider. Failures can be
// forced per phone (suffix match) or injected randomly via FailRate.
type Mock struct {
	FailRate        float64
	FailPhoneSuffix string
	Latency         time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func NewMock() *Mock {
	return &Mock{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) SendMessage(ctx context.Context, phone, content string, channel core.Channel) error {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.Latency):
		}
	}

	if m.FailPhoneSuffix != "" && strings.HasSuffix(phone, m.FailPhoneSuffix) {
		return &core.SendFailure{Reason: fmt.Sprintf("mock failure: phone ends with %s", m.FailPhoneSuffix)}
	}
	if m.FailRate > 0 {
		m.mu.Lock()
		roll := m.rand.Float64()
		m.mu.Unlock()
		if roll < m.FailRate {
			return &core.SendFailure{Reason: "mock random failure"}
		}
	}

	log.Printf("[mock] sent %s to %s: %q", channel, phone, truncate(content, 50))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
