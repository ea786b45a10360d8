package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskpulse/internal/model"
	"riskpulse/internal/session"
)

func event(ts time.Time, tb, vv, urgency, closure *float64) model.SignalEvent {
	ev := model.SignalEvent{
		Timestamp: ts,
		Signals: model.Signals{
			Voice:       model.MetricGroup{},
			Interaction: model.MetricGroup{},
			Temporal:    model.MetricGroup{},
		},
	}
	if tb != nil {
		ev.Signals.Interaction[model.MetricTurnBalanceIndex] = *tb
	}
	if vv != nil {
		ev.Signals.Voice[model.MetricVolumeVariance] = *vv
	}
	if urgency != nil {
		ev.Signals.Temporal[model.MetricUrgencyMarkerDensity] = *urgency
	}
	if closure != nil {
		ev.Signals.Temporal[model.MetricClosureAttemptDensity] = *closure
	}
	return ev
}

func f(v float64) *float64 { return &v }

func TestBandFor(t *testing.T) {
	cases := []struct {
		name model.RiskName
		p    int
		want Band
	}{
		{model.RiskStability, 61, BandHealthy},
		{model.RiskStability, 60, BandWatch},
		{model.RiskStability, 31, BandWatch},
		{model.RiskStability, 30, BandCritical},
		{model.RiskBacklash, 61, BandCritical},
		{model.RiskBacklash, 60, BandWatch},
		{model.RiskVolatility, 30, BandLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BandFor(tc.name, tc.p), "%s at %d", tc.name, tc.p)
	}
}

func TestConfidenceInterval(t *testing.T) {
	assert.Equal(t, 15, ConfidenceInterval(model.RiskState{Probability: 50, Confidence: 0.7}))
	assert.Equal(t, 0, ConfidenceInterval(model.RiskState{Probability: 0, Confidence: 0.7}))
	assert.Equal(t, 8, ConfidenceInterval(model.RiskState{Probability: 80, Confidence: 0.9}))
}

func TestIndicesDefaults(t *testing.T) {
	p := Indices(event(time.Time{}, nil, nil, nil, nil))
	assert.Equal(t, 50.0, p.Symmetry)
	assert.Equal(t, 100.0, p.Stability)
	assert.Equal(t, 0.0, p.Pressure)
	assert.Equal(t, "stability", Dominant(p))

	p = Indices(event(time.Time{}, f(0.2), f(4), f(3), f(2)))
	assert.InDelta(t, 20.0, p.Symmetry, 1e-9)
	assert.InDelta(t, 20.0, p.Stability, 1e-9)
	assert.InDelta(t, 60.0, p.Pressure, 1e-9)
	assert.Equal(t, "pressure", Dominant(p))
	assert.Equal(t, "symmetry", Dominant(IndexPoint{Symmetry: 40, Stability: 40, Pressure: 40}))
}

func TestBuild(t *testing.T) {
	base := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	risks := model.InitialRiskStates()
	risks[3].Probability = 85
	mem := model.NewSessionMemory(model.InitialRiskStates())
	mem.Peaks[model.RiskBacklash] = model.Peak{Value: 90, Timestamp: base}
	mem.Sustained[model.RiskBacklash] = model.Elevation{StartTime: base, Duration: 31 * time.Second}
	mem.Sustained[model.RiskCommitmentFragility] = model.Elevation{StartTime: base, Duration: 10 * time.Second}

	snap := session.Snapshot{
		State:     session.StateActive,
		SessionID: "r",
		Context:   model.DefaultSessionContext(),
		Risks:     risks,
		Memory:    mem,
		Alerts: []model.Alert{
			{Severity: model.SeverityWarning},
			{Severity: model.SeverityCritical},
		},
		Signals: []model.SignalEvent{
			event(base, nil, nil, f(4), f(2)),
			event(base.Add(time.Second), nil, nil, f(6), f(2)),
			event(base.Add(2*time.Second), f(0.9), nil, nil, nil),
		},
	}
	r := Build(snap)

	require.Len(t, r.Risks, len(model.RiskNames))
	backlash := r.Risks[3]
	assert.Equal(t, model.RiskBacklash, backlash.Name)
	assert.Equal(t, 10, backlash.Baseline)
	assert.Equal(t, 75, backlash.BaselineDelta)
	require.NotNil(t, backlash.Peak)
	assert.Equal(t, 90, backlash.Peak.Value)
	assert.Equal(t, BandCritical, backlash.Band)
	assert.True(t, backlash.Irreversible)
	assert.False(t, r.Risks[4].Irreversible)
	assert.Nil(t, r.Risks[0].Peak)

	require.Len(t, r.Indices, 3)
	require.NotNil(t, r.PressurePeak)
	assert.InDelta(t, 90.0, r.PressurePeak.Pressure, 1e-9)
	assert.Equal(t, base.Add(time.Second), r.PressurePeak.Timestamp)
	assert.Equal(t, "stability", r.Dominant)
	assert.True(t, r.HasCritical)
	assert.Equal(t, 2, r.AlertCount)
}

func TestBuildEmptySession(t *testing.T) {
	r := Build(session.Snapshot{State: session.StateIdle, Risks: model.InitialRiskStates(), Memory: model.NewSessionMemory(model.InitialRiskStates())})
	assert.Empty(t, r.Indices)
	assert.Nil(t, r.PressurePeak)
	assert.Empty(t, r.Dominant)
	assert.False(t, r.HasCritical)
	for _, rr := range r.Risks {
		assert.Zero(t, rr.BaselineDelta)
	}
}
