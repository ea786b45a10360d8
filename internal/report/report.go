// Package report derives the read-only dashboard indicators from a session
// snapshot. Nothing here feeds back into the pipeline.
package report

import (
	"math"
	"time"

	"riskpulse/internal/engine"
	"riskpulse/internal/model"
	"riskpulse/internal/session"
)

type Band string

const (
	BandHealthy  Band = "healthy"
	BandWatch    Band = "watch"
	BandCritical Band = "critical"
	BandLow      Band = "low"
)

// PressurePeakFloor is the pressure index a session must exceed before a
// peak is reported.
const PressurePeakFloor = 50.0

type RiskReport struct {
	Name          model.RiskName `json:"name"`
	Probability   int            `json:"probability"`
	Trend         model.Trend    `json:"trend"`
	Confidence    float64        `json:"confidence"`
	Interval      int            `json:"confidence_interval"`
	Baseline      int            `json:"baseline"`
	BaselineDelta int            `json:"baseline_delta"`
	Peak          *model.Peak    `json:"peak,omitempty"`
	Band          Band           `json:"band"`
	Irreversible  bool           `json:"irreversible"`
}

type IndexPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Symmetry  float64   `json:"symmetry"`
	Stability float64   `json:"stability"`
	Pressure  float64   `json:"pressure"`
}

type Report struct {
	SessionID    string               `json:"session_id"`
	State        session.State        `json:"state"`
	Context      model.SessionContext `json:"context"`
	Risks        []RiskReport         `json:"risks"`
	Indices      []IndexPoint         `json:"indices"`
	Dominant     string               `json:"dominant_index,omitempty"`
	PressurePeak *IndexPoint          `json:"pressure_peak,omitempty"`
	HasCritical  bool                 `json:"has_critical"`
	AlertCount   int                  `json:"alert_count"`
}

func Build(snap session.Snapshot) Report {
	out := Report{
		SessionID:  snap.SessionID,
		State:      snap.State,
		Context:    snap.Context,
		Risks:      make([]RiskReport, 0, len(snap.Risks)),
		Indices:    make([]IndexPoint, 0, len(snap.Signals)),
		AlertCount: len(snap.Alerts),
	}
	for _, s := range snap.Risks {
		out.Risks = append(out.Risks, riskReport(s, snap.Memory))
	}
	for _, ev := range snap.Signals {
		p := Indices(ev)
		out.Indices = append(out.Indices, p)
		if p.Pressure > PressurePeakFloor && (out.PressurePeak == nil || p.Pressure > out.PressurePeak.Pressure) {
			peak := p
			out.PressurePeak = &peak
		}
	}
	if n := len(out.Indices); n > 0 {
		out.Dominant = Dominant(out.Indices[n-1])
	}
	for _, a := range snap.Alerts {
		if a.Severity == model.SeverityCritical {
			out.HasCritical = true
			break
		}
	}
	return out
}

func riskReport(s model.RiskState, mem model.SessionMemory) RiskReport {
	r := RiskReport{
		Name:         s.Name,
		Probability:  s.Probability,
		Trend:        s.Trend,
		Confidence:   s.Confidence,
		Interval:     ConfidenceInterval(s),
		Band:         BandFor(s.Name, s.Probability),
		Irreversible: engine.Irreversible(mem, s.Name),
	}
	if base, ok := model.FindRisk(mem.Baseline, s.Name); ok {
		r.Baseline = base.Probability
		r.BaselineDelta = s.Probability - base.Probability
	}
	if p, ok := mem.Peaks[s.Name]; ok {
		r.Peak = &p
	}
	return r
}

// ConfidenceInterval is the ± half-width around the probability.
func ConfidenceInterval(s model.RiskState) int {
	return int(math.Floor((1-s.Confidence)*float64(s.Probability) + 0.5))
}

// BandFor grades a probability. Stability is good when high; every other
// dimension is good when low.
func BandFor(name model.RiskName, probability int) Band {
	if name == model.RiskStability {
		switch {
		case probability > 60:
			return BandHealthy
		case probability > 30:
			return BandWatch
		default:
			return BandCritical
		}
	}
	switch {
	case probability > 60:
		return BandCritical
	case probability > 30:
		return BandWatch
	default:
		return BandLow
	}
}

func Indices(ev model.SignalEvent) IndexPoint {
	return IndexPoint{
		Timestamp: ev.Timestamp,
		Symmetry:  ev.Signals.Interaction.Or(model.MetricTurnBalanceIndex, 0.5) * 100,
		Stability: 100 - ev.Signals.Voice.Or(model.MetricVolumeVariance, 0)*20,
		Pressure: ev.Signals.Temporal.Or(model.MetricUrgencyMarkerDensity, 0)*10 +
			ev.Signals.Temporal.Or(model.MetricClosureAttemptDensity, 0)*15,
	}
}

// Dominant names the largest index; ties go to the first in
// symmetry, stability, pressure order.
func Dominant(p IndexPoint) string {
	name, best := "symmetry", p.Symmetry
	if p.Stability > best {
		name, best = "stability", p.Stability
	}
	if p.Pressure > best {
		name = "pressure"
	}
	return name
}
