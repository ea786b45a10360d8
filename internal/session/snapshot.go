package session

import (
	"time"

	"riskpulse/internal/model"
)

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	State     State                `json:"state"`
	SessionID string               `json:"session_id"`
	Context   model.SessionContext `json:"context"`
	Seq       uint64               `json:"seq"`
	StartedAt time.Time            `json:"started_at,omitzero"`
	Risks     []model.RiskState    `json:"risks"`
	Memory    model.SessionMemory  `json:"memory"`
	Alerts    []model.Alert        `json:"alerts"`
	Signals   []model.SignalEvent  `json:"signals"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		SessionID: c.sessionID,
		Context:   c.context,
		Seq:       c.seq,
		StartedAt: c.startedAt,
		Risks:     model.CloneRiskStates(c.risks),
		Memory:    c.tracker.Memory(),
		Alerts:    c.alerts.List(0),
		Signals:   c.history.Events(0),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

func (c *Controller) Context() model.SessionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context
}

func (c *Controller) Risks() []model.RiskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneRiskStates(c.risks)
}

func (c *Controller) Memory() model.SessionMemory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Memory()
}

// Alerts returns up to limit alerts, most recent first.
func (c *Controller) Alerts(limit int) []model.Alert {
	return c.alerts.List(limit)
}

// Signals returns up to limit of the most recent signal events, oldest first.
func (c *Controller) Signals(limit int) []model.SignalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Events(limit)
}

func (c *Controller) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Irreversible reports the derived irreversible-escalation marker for name.
func (c *Controller) Irreversible(name model.RiskName) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Irreversible(name)
}
