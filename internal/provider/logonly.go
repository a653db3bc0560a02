package provider

import (
	"context"
	"log"

	"github.com/iosfx/autoservice/internal/core"
)

// LogOnly records sends without delivering anything. Useful until a carrier
// integration is wired behind the same contract.
type LogOnly struct{}

func NewLogOnly() *LogOnly { return &LogOnly{} }

func (*LogOnly) Name() string { return "log-only" }

func (*LogOnly) SendMessage(_ context.Context, phone, content string, channel core.Channel) error {
	log.Printf("[log-only] %s to %s: %q", channel, phone, truncate(content, 80))
	return nil
}
