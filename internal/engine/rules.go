package engine

import (
	"time"

	"github.com/google/uuid"

	"riskpulse/internal/model"
)

// MaxAlertsPerTick caps the alerts kept from one evaluation.
const MaxAlertsPerTick = 2

type Rule struct {
	Name     string
	Severity model.Severity
	Message  string
	Match    func(ev model.SignalEvent, states []model.RiskState) bool
}

// Rules are evaluated in order; the first MaxAlertsPerTick matches win.
var Rules = []Rule{
	{
		Name:     "structural_shift",
		Severity: model.SeverityWarning,
		Message:  "Structural shift detected: pacing variance elevated",
		Match: func(ev model.SignalEvent, _ []model.RiskState) bool {
			v, ok := ev.Signals.Voice.Get(model.MetricVolumeVariance)
			return ok && v > 2
		},
	},
	{
		Name:     "volatility_increasing",
		Severity: model.SeverityWarning,
		Message:  "Volatility increasing",
		Match: func(_ model.SignalEvent, states []model.RiskState) bool {
			return riskAbove(states, model.RiskVolatility, 60, model.TrendIncreasing)
		},
	},
	{
		Name:     "pressure_saturation",
		Severity: model.SeverityCritical,
		Message:  "Pressure saturation approaching",
		Match: func(_ model.SignalEvent, states []model.RiskState) bool {
			s, ok := model.FindRisk(states, model.RiskSaturation)
			return ok && s.Probability > 70
		},
	},
	{
		Name:     "stability_decreasing",
		Severity: model.SeverityWarning,
		Message:  "Commitment stability decreasing",
		Match: func(_ model.SignalEvent, states []model.RiskState) bool {
			s, ok := model.FindRisk(states, model.RiskStability)
			return ok && s.Probability < 40 && s.Trend == model.TrendDecreasing
		},
	},
	{
		Name:     "asymmetry_widening",
		Severity: model.SeverityInfo,
		Message:  "Asymmetry widening",
		Match: func(ev model.SignalEvent, _ []model.RiskState) bool {
			v, ok := ev.Signals.Interaction.Get(model.MetricTurnBalanceIndex)
			return ok && v < 0.35
		},
	},
	{
		Name:     "backlash_elevated",
		Severity: model.SeverityCritical,
		Message:  "Backlash risk elevated",
		Match: func(_ model.SignalEvent, states []model.RiskState) bool {
			return riskAbove(states, model.RiskBacklash, 50, model.TrendIncreasing)
		},
	},
}

// DetectAlerts evaluates Rules against the event and freshly computed states.
func DetectAlerts(ev model.SignalEvent, states []model.RiskState, now time.Time) []model.Alert {
	var out []model.Alert
	for _, rule := range Rules {
		if len(out) == MaxAlertsPerTick {
			break
		}
		if !rule.Match(ev, states) {
			continue
		}
		out = append(out, model.Alert{
			ID:        uuid.NewString(),
			Severity:  rule.Severity,
			Message:   rule.Message,
			Timestamp: now,
			Rule:      rule.Name,
		})
	}
	return out
}

func riskAbove(states []model.RiskState, name model.RiskName, threshold int, trend model.Trend) bool {
	s, ok := model.FindRisk(states, name)
	return ok && s.Probability > threshold && s.Trend == trend
}
