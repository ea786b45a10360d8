package engine

import "riskpulse/internal/model"

// History is the rolling window of the most recent signal events.
type History struct {
	limit  int
	events []model.SignalEvent
	head   int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 60
	}
	return &History{
		limit:  limit,
		events: make([]model.SignalEvent, 0, limit*2),
	}
}

func (h *History) Add(ev model.SignalEvent) {
	h.events = append(h.events, ev)
	if len(h.events)-h.head > h.limit {
		h.head = len(h.events) - h.limit
	}
	if h.head > 0 && h.head*2 >= len(h.events) {
		h.events = append([]model.SignalEvent{}, h.events[h.head:]...)
		h.head = 0
	}
}

func (h *History) Len() int {
	return len(h.events) - h.head
}

func (h *History) Limit() int {
	return h.limit
}

// Events returns up to n of the most recent events, oldest first. n <= 0 returns all.
func (h *History) Events(n int) []model.SignalEvent {
	size := h.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.SignalEvent, n)
	copy(out, h.events[len(h.events)-n:])
	return out
}

func (h *History) Latest() (model.SignalEvent, bool) {
	if h.Len() == 0 {
		return model.SignalEvent{}, false
	}
	return h.events[len(h.events)-1], true
}

func (h *History) Clear() {
	h.events = h.events[:0]
	h.head = 0
}
