package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iosfx/autoservice/internal/core"
)

func TestMock_FailPhoneSuffix(t *testing.T) {
	m := NewMock()
	m.FailPhoneSuffix = "0000"

	err := m.SendMessage(context.Background(), "+40722990000", "salut", core.ChannelSMS)
	var failure *core.SendFailure
	require.ErrorAs(t, err, &failure)
	require.Contains(t, failure.Reason, "0000")

	require.NoError(t, m.SendMessage(context.Background(), "+40722991234", "salut", core.ChannelSMS))
}

func TestMock_FailRateAlways(t *testing.T) {
	m := NewMock()
	m.FailRate = 1.0

	err := m.SendMessage(context.Background(), "+40722991234", "salut", core.ChannelSMS)
	var failure *core.SendFailure
	require.ErrorAs(t, err, &failure)
}

func TestFromConfig(t *testing.T) {
	p := FromConfig("mock", 0.5, "9999")
	m, ok := p.(*Mock)
	require.True(t, ok)
	require.Equal(t, 0.5, m.FailRate)
	require.Equal(t, "9999", m.FailPhoneSuffix)

	require.Equal(t, "log-only", FromConfig("log", 0, "").Name())
	require.Equal(t, "mock", FromConfig("bogus", 0, "").Name())
}

func TestRateLimited_DelegatesAndNames(t *testing.T) {
	inner := NewMock()
	rl := NewRateLimited(inner, 100, 5)
	require.Equal(t, "mock+ratelimit", rl.Name())
	require.NoError(t, rl.SendMessage(context.Background(), "+40722991234", "salut", core.ChannelSMS))

	// canceled context surfaces as a plain error, not a provider failure
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.SendMessage(ctx, "+40722991234", "salut", core.ChannelSMS)
	require.Error(t, err)
	var failure *core.SendFailure
	require.False(t, errors.As(err, &failure))
}
