package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskpulse/internal/model"
)

func TestSignalFillsEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	ev, err := Signal(model.SignalEvent{}, Defaults{SessionID: "s1", Now: now})
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, model.ChannelMixed, ev.Channel)
	assert.Equal(t, model.WindowRolling, ev.Window.Type)
	assert.NotNil(t, ev.Signals.Voice)
}

func TestSignalKeepsAbsentMetricsAbsent(t *testing.T) {
	in := model.SignalEvent{
		Channel: "VOICE",
		Signals: model.Signals{
			Voice: model.MetricGroup{" Volume_Variance ": 1.2, "interruption_rate": math.NaN()},
		},
	}
	ev, err := Signal(in, Defaults{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelVoice, ev.Channel)
	v, ok := ev.Signals.Voice.Get(model.MetricVolumeVariance)
	assert.True(t, ok)
	assert.Equal(t, 1.2, v)
	_, ok = ev.Signals.Voice.Get(model.MetricInterruptionRate)
	assert.False(t, ok)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestSignalRejectsMalformed(t *testing.T) {
	_, err := Signal(model.SignalEvent{Channel: "smoke"}, Defaults{})
	assert.Error(t, err)
	_, err = Signal(model.SignalEvent{Window: model.Window{Type: "sliding"}}, Defaults{})
	assert.Error(t, err)
	_, err = Signal(model.SignalEvent{Window: model.Window{DurationSeconds: -1}}, Defaults{})
	assert.Error(t, err)
}
