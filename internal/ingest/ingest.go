package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"riskpulse/internal/model"
)

// ErrNoSignal is returned by a Source that has nothing ready for this tick.
var ErrNoSignal = errors.New("ingest: no signal ready")

// Source yields at most one signal event per call and never blocks waiting
// for one.
type Source interface {
	Next(ctx context.Context) (model.SignalEvent, error)
}

// Queue buffers events pushed by background readers (kafka, REST, file
// replay) until the session pulls them on its tick.
type Queue struct {
	ch     chan model.SignalEvent
	logger *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan model.SignalEvent, size), logger: logger}
}

func (q *Queue) Next(ctx context.Context) (model.SignalEvent, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-ctx.Done():
		return model.SignalEvent{}, ctx.Err()
	default:
		return model.SignalEvent{}, ErrNoSignal
	}
}

// Push enqueues ev, dropping it when the queue is full.
func (q *Queue) Push(ctx context.Context, ev model.SignalEvent) bool {
	return SendNonBlocking(ctx, q.ch, ev, q.logger)
}

// PushWait enqueues ev, waiting for room until ctx is done.
func (q *Queue) PushWait(ctx context.Context, ev model.SignalEvent) bool {
	select {
	case q.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain discards everything buffered.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

func SendNonBlocking(ctx context.Context, out chan<- model.SignalEvent, ev model.SignalEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("signal queue full, dropping event", "session_id", ev.SessionID, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
