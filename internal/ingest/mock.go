package ingest

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"riskpulse/internal/model"
)

// Generator is the stand-in signal source producing plausible random readings.
type Generator struct {
	sessionID string
	rand      *rand.Rand
	now       func() time.Time
}

func NewGenerator(sessionID string, r *rand.Rand, now func() time.Time) *Generator {
	if r == nil {
		seed := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Generator{sessionID: sessionID, rand: r, now: now}
}

func (g *Generator) Next(ctx context.Context) (model.SignalEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.SignalEvent{}, err
	}
	return g.Generate(), nil
}

func (g *Generator) Generate() model.SignalEvent {
	f := g.rand.Float64
	baseRate := 120 + f()*80
	speechRate := baseRate
	if f() > 0.7 {
		speechRate += 40
	}
	return model.SignalEvent{
		SessionID: g.sessionID,
		Timestamp: g.now(),
		Channel:   model.ChannelMixed,
		Window:    model.Window{DurationSeconds: 10, Type: model.WindowRolling},
		Source:    "mock",
		Signals: model.Signals{
			Voice: model.MetricGroup{
				model.MetricSpeechRate:        speechRate,
				model.MetricPauseFrequency:    8 + f()*12,
				model.MetricAveragePause:      300 + f()*700,
				model.MetricVolumeVariance:    f() * 2.5,
				model.MetricInterruptionRate:  f() * 0.3,
				model.MetricSpeakingTimeRatio: 0.3 + f()*0.4,
			},
			Linguistic: model.MetricGroup{
				model.MetricCertaintyRatio:         0.4 + f()*0.5,
				model.MetricHedgingDensity:         f() * 8,
				model.MetricModalVerbDensity:       f() * 6,
				model.MetricSentenceLengthVariance: 5 + f()*20,
				model.MetricRepetitionIndex:        f() * 0.5,
			},
			Interaction: model.MetricGroup{
				model.MetricTurnCount:        math.Floor(3 + f()*8),
				model.MetricTurnBalanceIndex: 0.3 + f()*0.4,
				model.MetricTopicSwitchRate:  f() * 3,
				model.MetricTopicReentryRate: f() * 2,
			},
			Temporal: model.MetricGroup{
				model.MetricUrgencyMarkerDensity:  f() * 5,
				model.MetricResponseLatency:       200 + f()*2000,
				model.MetricLatencyVariance:       f() * 500,
				model.MetricClosureAttemptDensity: f() * 3,
			},
		},
	}
}
