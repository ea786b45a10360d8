package model

import (
	"encoding/json"
	"sort"
	"time"
)

type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelText  Channel = "text"
	ChannelMixed Channel = "mixed"
)

type WindowType string

const (
	WindowRolling WindowType = "rolling"
	WindowFixed   WindowType = "fixed"
)

type Window struct {
	DurationSeconds float64    `json:"duration_seconds"`
	Type            WindowType `json:"window_type"`
}

// MetricGroup maps a metric name to its value. A missing key means the
// metric was not observed; it is never the same as a zero reading.
type MetricGroup map[string]float64

func (g MetricGroup) Get(name string) (float64, bool) {
	if g == nil {
		return 0, false
	}
	v, ok := g[name]
	return v, ok
}

// Or returns the metric or def when it is absent.
func (g MetricGroup) Or(name string, def float64) float64 {
	if v, ok := g.Get(name); ok {
		return v
	}
	return def
}

func (g *MetricGroup) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(MetricGroup, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = *v
	}
	*g = out
	return nil
}

// Names returns the observed metric names in sorted order.
func (g MetricGroup) Names() []string {
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Signals struct {
	Voice       MetricGroup `json:"voice_metrics"`
	Linguistic  MetricGroup `json:"linguistic_metrics"`
	Interaction MetricGroup `json:"interaction_metrics"`
	Temporal    MetricGroup `json:"temporal_metrics"`
}

// SignalEvent is one observation window produced by a signal source.
type SignalEvent struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   Channel   `json:"channel"`
	Window    Window    `json:"window"`
	Signals   Signals   `json:"signals"`
	Source    string    `json:"source,omitempty"`
}

// Metric names read by the scoring and alert rules.
const (
	MetricVolumeVariance         = "volume_variance"
	MetricInterruptionRate       = "interruption_rate"
	MetricSpeechRate             = "speech_rate_wpm"
	MetricPauseFrequency         = "pause_frequency_per_min"
	MetricAveragePause           = "average_pause_ms"
	MetricSpeakingTimeRatio      = "speaking_time_ratio"
	MetricCertaintyRatio         = "certainty_ratio"
	MetricHedgingDensity         = "hedging_density"
	MetricModalVerbDensity       = "modal_verb_density"
	MetricSentenceLengthVariance = "sentence_length_variance"
	MetricRepetitionIndex        = "repetition_index"
	MetricTurnCount              = "turn_count"
	MetricTurnBalanceIndex       = "turn_balance_index"
	MetricTopicSwitchRate        = "topic_switch_rate"
	MetricTopicReentryRate       = "topic_reentry_rate"
	MetricUrgencyMarkerDensity   = "urgency_marker_density"
	MetricResponseLatency        = "response_latency_ms"
	MetricLatencyVariance        = "latency_variance"
	MetricClosureAttemptDensity  = "closure_attempt_density"
)

type RiskName string

const (
	RiskStability           RiskName = "Stability"
	RiskVolatility          RiskName = "Volatility"
	RiskSaturation          RiskName = "Saturation"
	RiskBacklash            RiskName = "Backlash Risk"
	RiskCommitmentFragility RiskName = "Commitment Fragility"
)

// RiskNames is the closed, ordered set of tracked risk dimensions.
var RiskNames = []RiskName{
	RiskStability,
	RiskVolatility,
	RiskSaturation,
	RiskBacklash,
	RiskCommitmentFragility,
}

// EscalationRisks are the dimensions whose sustained elevation is tracked.
var EscalationRisks = []RiskName{RiskBacklash, RiskCommitmentFragility}

func IsEscalationRisk(name RiskName) bool {
	for _, n := range EscalationRisks {
		if n == name {
			return true
		}
	}
	return false
}

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

type RiskState struct {
	Name        RiskName `json:"name"`
	Probability int      `json:"probability"`
	Trend       Trend    `json:"trend"`
	Confidence  float64  `json:"confidence"`
}

// InitialRiskStates returns a fresh copy of the defaults used before any tick.
func InitialRiskStates() []RiskState {
	return []RiskState{
		{Name: RiskStability, Probability: 75, Trend: TrendStable, Confidence: 0.85},
		{Name: RiskVolatility, Probability: 20, Trend: TrendStable, Confidence: 0.8},
		{Name: RiskSaturation, Probability: 15, Trend: TrendStable, Confidence: 0.75},
		{Name: RiskBacklash, Probability: 10, Trend: TrendStable, Confidence: 0.9},
		{Name: RiskCommitmentFragility, Probability: 25, Trend: TrendStable, Confidence: 0.7},
	}
}

func CloneRiskStates(states []RiskState) []RiskState {
	if states == nil {
		return nil
	}
	out := make([]RiskState, len(states))
	copy(out, states)
	return out
}

func FindRisk(states []RiskState, name RiskName) (RiskState, bool) {
	for _, s := range states {
		if s.Name == name {
			return s, true
		}
	}
	return RiskState{}, false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Rule      string    `json:"rule,omitempty"`
}

type NegotiationType string

const (
	NegotiationSales       NegotiationType = "sales"
	NegotiationSalary      NegotiationType = "salary"
	NegotiationPartnership NegotiationType = "partnership"
	NegotiationConflict    NegotiationType = "conflict"
)

type StakesLevel string

const (
	StakesLow    StakesLevel = "low"
	StakesMedium StakesLevel = "medium"
	StakesHigh   StakesLevel = "high"
)

type RelationshipStage string

const (
	StageFirstContact RelationshipStage = "first-contact"
	StageOngoing      RelationshipStage = "ongoing"
	StageClosing      RelationshipStage = "closing"
)

type SessionContext struct {
	NegotiationType   NegotiationType   `json:"negotiation_type" yaml:"negotiation_type"`
	StakesLevel       StakesLevel       `json:"stakes_level" yaml:"stakes_level"`
	RelationshipStage RelationshipStage `json:"relationship_stage" yaml:"relationship_stage"`
}

func DefaultSessionContext() SessionContext {
	return SessionContext{
		NegotiationType:   NegotiationSales,
		StakesLevel:       StakesMedium,
		RelationshipStage: StageOngoing,
	}
}

func (c SessionContext) Valid() bool {
	switch c.NegotiationType {
	case NegotiationSales, NegotiationSalary, NegotiationPartnership, NegotiationConflict:
	default:
		return false
	}
	switch c.StakesLevel {
	case StakesLow, StakesMedium, StakesHigh:
	default:
		return false
	}
	switch c.RelationshipStage {
	case StageFirstContact, StageOngoing, StageClosing:
	default:
		return false
	}
	return true
}

type Peak struct {
	Value     int       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type Elevation struct {
	StartTime time.Time
	Duration  time.Duration
}

// elevationJSON is the wire form of Elevation; duration is in milliseconds.
type elevationJSON struct {
	StartTime time.Time `json:"start_time"`
	Duration  int64     `json:"duration"`
}

func (e Elevation) MarshalJSON() ([]byte, error) {
	return json.Marshal(elevationJSON{StartTime: e.StartTime, Duration: e.Duration.Milliseconds()})
}

func (e *Elevation) UnmarshalJSON(data []byte) error {
	var raw elevationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.StartTime = raw.StartTime
	e.Duration = time.Duration(raw.Duration) * time.Millisecond
	return nil
}

type SessionMemory struct {
	Baseline  []RiskState            `json:"baseline_risks"`
	Peaks     map[RiskName]Peak      `json:"peak_risks"`
	Sustained map[RiskName]Elevation `json:"sustained_elevation"`
}

func NewSessionMemory(baseline []RiskState) SessionMemory {
	return SessionMemory{
		Baseline:  CloneRiskStates(baseline),
		Peaks:     make(map[RiskName]Peak),
		Sustained: make(map[RiskName]Elevation),
	}
}

func (m SessionMemory) Clone() SessionMemory {
	out := SessionMemory{
		Baseline:  CloneRiskStates(m.Baseline),
		Peaks:     make(map[RiskName]Peak, len(m.Peaks)),
		Sustained: make(map[RiskName]Elevation, len(m.Sustained)),
	}
	for k, v := range m.Peaks {
		out.Peaks[k] = v
	}
	for k, v := range m.Sustained {
		out.Sustained[k] = v
	}
	return out
}

// Tick is the outcome of one pipeline pass.
type Tick struct {
	Seq       uint64        `json:"seq"`
	SessionID string        `json:"session_id"`
	Timestamp time.Time     `json:"timestamp"`
	Signal    SignalEvent   `json:"signal"`
	Risks     []RiskState   `json:"risks"`
	Memory    SessionMemory `json:"memory"`
	Alerts    []Alert       `json:"alerts"`
}
