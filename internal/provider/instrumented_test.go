package provider

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/iosfx/autoservice/internal/core"
	"github.com/iosfx/autoservice/internal/metrics"
)

func sendDurationSamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.ProviderSendDuration.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestInstrumented_ObservesEverySend(t *testing.T) {
	inner := NewMock()
	inner.FailPhoneSuffix = "0000"
	p := NewInstrumented(inner)
	require.Equal(t, "mock", p.Name())

	before := sendDurationSamples(t)

	require.NoError(t, p.SendMessage(context.Background(), "+40722991234", "salut", core.ChannelSMS))

	// failed sends count too; the carrier round trip happened either way
	err := p.SendMessage(context.Background(), "+40722990000", "salut", core.ChannelSMS)
	var failure *core.SendFailure
	require.ErrorAs(t, err, &failure)

	require.Equal(t, before+2, sendDurationSamples(t))
}
