package engine

import (
	"math"
	"math/rand/v2"
	"time"

	"riskpulse/internal/model"
)

const (
	// SmoothingFactor is the share of the raw-vs-previous gap applied per tick.
	SmoothingFactor = 0.3
	// TrendDeadband is the absolute raw delta at or below which a risk is stable.
	TrendDeadband = 5

	minConfidence   = 0.70
	confidenceRange = 0.25
)

// Calculator turns signal events into smoothed risk states. Confidence is
// drawn from the injected random source, so a seeded source makes the whole
// calculation reproducible. A Calculator is not safe for concurrent use.
type Calculator struct {
	rand *rand.Rand
}

func NewCalculator(r *rand.Rand) *Calculator {
	if r == nil {
		seed := uint64(time.Now().UnixNano())
		r = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Calculator{rand: r}
}

// Calculate returns the next risk states for prev, in prev's order.
func (c *Calculator) Calculate(ev model.SignalEvent, prev []model.RiskState, sc model.SessionContext) []model.RiskState {
	raw := RawScores(ev, sc)
	out := make([]model.RiskState, 0, len(prev))
	for _, state := range prev {
		target, ok := raw[state.Name]
		if !ok {
			out = append(out, state)
			continue
		}
		delta := target - state.Probability
		out = append(out, model.RiskState{
			Name:        state.Name,
			Probability: clampInt(roundHalfUp(float64(state.Probability) + float64(delta)*SmoothingFactor)),
			Trend:       ClassifyTrend(delta),
			Confidence:  c.confidence(),
		})
	}
	return out
}

func (c *Calculator) confidence() float64 {
	return minConfidence + c.rand.Float64()*confidenceRange
}

// StakesMultiplier scales the volatility score for the session's stakes.
func StakesMultiplier(level model.StakesLevel) float64 {
	switch level {
	case model.StakesHigh:
		return 1.3
	case model.StakesLow:
		return 0.7
	default:
		return 1.0
	}
}

// RawScores computes the unsmoothed score of every risk dimension. Absent
// metrics count as 0.
func RawScores(ev model.SignalEvent, sc model.SessionContext) map[model.RiskName]int {
	voice := ev.Signals.Voice
	ling := ev.Signals.Linguistic
	inter := ev.Signals.Interaction
	temp := ev.Signals.Temporal

	volatility := clamp((voice.Or(model.MetricVolumeVariance, 0)*20 +
		voice.Or(model.MetricInterruptionRate, 0)*50 +
		ling.Or(model.MetricSentenceLengthVariance, 0)*1.5) * StakesMultiplier(sc.StakesLevel))

	stability := clamp(100 - volatility*0.8)

	saturation := clamp(temp.Or(model.MetricUrgencyMarkerDensity, 0)*15 +
		temp.Or(model.MetricClosureAttemptDensity, 0)*20 +
		ling.Or(model.MetricRepetitionIndex, 0)*100)

	backlash := clamp(saturation*0.3 +
		(1-inter.Or(model.MetricTurnBalanceIndex, 0))*60 +
		voice.Or(model.MetricInterruptionRate, 0)*100)

	fragility := clamp(ling.Or(model.MetricHedgingDensity, 0)*8 +
		ling.Or(model.MetricModalVerbDensity, 0)*10 +
		(1-ling.Or(model.MetricCertaintyRatio, 0))*50)

	return map[model.RiskName]int{
		model.RiskStability:           clampInt(roundHalfUp(stability)),
		model.RiskVolatility:          clampInt(roundHalfUp(volatility)),
		model.RiskSaturation:          clampInt(roundHalfUp(saturation)),
		model.RiskBacklash:            clampInt(roundHalfUp(backlash)),
		model.RiskCommitmentFragility: clampInt(roundHalfUp(fragility)),
	}
}

// ClassifyTrend maps an unsmoothed delta to a trend; ±TrendDeadband is stable.
func ClassifyTrend(delta int) model.Trend {
	switch {
	case delta > TrendDeadband:
		return model.TrendIncreasing
	case delta < -TrendDeadband:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// roundHalfUp rounds .5 toward +Inf.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
