package engine

import (
	"time"

	"riskpulse/internal/model"
)

const (
	// EscalationThreshold is the probability above which escalation risks accrue elevation time.
	EscalationThreshold = 70
	// IrreversibleAfter is the continuous elevation that marks an escalation as irreversible.
	IrreversibleAfter = 30 * time.Second
)

// ElevationTimers holds the first tick time each escalation risk crossed the threshold.
type ElevationTimers map[model.RiskName]time.Time

func (t ElevationTimers) clone() ElevationTimers {
	out := make(ElevationTimers, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// UpdateMemory folds one tick of risk states into mem. Neither argument is
// mutated; the baseline is carried over unchanged.
func UpdateMemory(mem model.SessionMemory, timers ElevationTimers, states []model.RiskState, now time.Time) (model.SessionMemory, ElevationTimers) {
	next := mem.Clone()
	nextTimers := timers.clone()
	for _, state := range states {
		if peak, ok := next.Peaks[state.Name]; !ok || state.Probability > peak.Value {
			next.Peaks[state.Name] = model.Peak{Value: state.Probability, Timestamp: now}
		}
		if !model.IsEscalationRisk(state.Name) {
			continue
		}
		if state.Probability <= EscalationThreshold {
			delete(nextTimers, state.Name)
			delete(next.Sustained, state.Name)
			continue
		}
		start, ok := nextTimers[state.Name]
		if !ok {
			start = now
			nextTimers[state.Name] = start
		}
		next.Sustained[state.Name] = model.Elevation{StartTime: start, Duration: now.Sub(start)}
	}
	return next, nextTimers
}

// Irreversible reports whether name has stayed elevated for IrreversibleAfter.
func Irreversible(mem model.SessionMemory, name model.RiskName) bool {
	if !model.IsEscalationRisk(name) {
		return false
	}
	e, ok := mem.Sustained[name]
	return ok && e.Duration >= IrreversibleAfter
}

// Tracker keeps session memory and elevation timers across ticks.
type Tracker struct {
	memory model.SessionMemory
	timers ElevationTimers
}

func NewTracker(baseline []model.RiskState) *Tracker {
	t := &Tracker{}
	t.Reset(baseline)
	return t
}

// Reset fixes a new baseline and clears peaks, sustained records and timers.
func (t *Tracker) Reset(baseline []model.RiskState) {
	t.memory = model.NewSessionMemory(baseline)
	t.timers = make(ElevationTimers)
}

func (t *Tracker) Update(states []model.RiskState, now time.Time) model.SessionMemory {
	t.memory, t.timers = UpdateMemory(t.memory, t.timers, states, now)
	return t.memory.Clone()
}

func (t *Tracker) Memory() model.SessionMemory {
	return t.memory.Clone()
}

func (t *Tracker) Irreversible(name model.RiskName) bool {
	return Irreversible(t.memory, name)
}
