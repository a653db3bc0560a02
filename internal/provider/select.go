package provider

import (
	"log"

	"github.com/iosfx/autoservice/internal/core"
)

// FromConfig resolves the configured provider once at startup. The result is
// injected into the dispatcher; nothing here is a global.
func FromConfig(name string, failRate float64, failPhoneSuffix string) core.MessagingProvider {
	switch name {
	case "", "mock":
		m := NewMock()
		m.FailRate = failRate
		m.FailPhoneSuffix = failPhoneSuffix
		return m
	case "log":
		return NewLogOnly()
	default:
		log.Printf("unknown messaging provider %q, falling back to mock", name)
		return NewMock()
	}
}
