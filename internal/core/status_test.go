package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to QueueStatus
		ok       bool
	}{
		{StatusScheduled, StatusSending, true},
		{StatusScheduled, StatusCanceled, true},
		{StatusDue, StatusSending, true},
		{StatusDue, StatusCanceled, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusScheduled, true}, // retry requeue
		{StatusSending, StatusFailed, true},
		{StatusFailed, StatusScheduled, true}, // manual revive
		{StatusFailed, StatusCanceled, true},
		{StatusBlocked, StatusScheduled, true},
		{StatusBlocked, StatusCanceled, true},

		{StatusSent, StatusScheduled, false},
		{StatusSent, StatusCanceled, false},
		{StatusCanceled, StatusScheduled, false},
		{StatusCanceled, StatusSending, false},
		{StatusScheduled, StatusSent, false}, // must pass through SENDING
		{StatusDue, StatusFailed, false},
		{StatusBlocked, StatusSending, false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, StatusSent.Terminal())
	require.True(t, StatusCanceled.Terminal())
	require.False(t, StatusFailed.Terminal()) // revivable by reschedule
	require.False(t, StatusBlocked.Terminal())
	require.False(t, StatusScheduled.Terminal())
}

func TestBackoffSchedule(t *testing.T) {
	require.Equal(t, 15*time.Minute, backoffFor(1))
	require.Equal(t, 60*time.Minute, backoffFor(2))
	require.Equal(t, 360*time.Minute, backoffFor(3))
	// clamped outside the table
	require.Equal(t, 15*time.Minute, backoffFor(0))
	require.Equal(t, 360*time.Minute, backoffFor(7))
}
