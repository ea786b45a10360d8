package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"riskpulse/internal/model"
	"riskpulse/internal/normalize"
)

// RESTHandler accepts POSTed signal events (one object or an array) and
// queues them for the session.
type RESTHandler struct {
	queue     *Queue
	sessionID string
	logger    *slog.Logger
}

func NewRESTHandler(q *Queue, sessionID string, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{queue: q, sessionID: sessionID, logger: logger}
}

func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	events, err := ParseSignals(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	accepted := 0
	failed := 0
	for _, ev := range events {
		if accept(r.Context(), h.queue, ev, h.sessionID, "rest", false, h.logger) {
			accepted++
		} else {
			failed++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func accept(ctx context.Context, q *Queue, ev model.SignalEvent, sessionID, source string, wait bool, logger *slog.Logger) bool {
	ev, err := normalize.Signal(ev, normalize.Defaults{SessionID: sessionID, Now: time.Now().UTC()})
	if err != nil {
		if logger != nil {
			logger.Warn("signal rejected", "source", source, "err", err)
		}
		return false
	}
	ev.Source = source
	if wait {
		return q.PushWait(ctx, ev)
	}
	return q.Push(ctx, ev)
}
