package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"riskpulse/internal/config"
	"riskpulse/internal/model"
	"riskpulse/internal/report"
	"riskpulse/internal/session"
)

// SessionControl is the slice of the session controller the API drives.
type SessionControl interface {
	Start() error
	Stop() error
	Reset()
	SetContext(sc model.SessionContext) error
	Snapshot() session.Snapshot
	Risks() []model.RiskState
	Memory() model.SessionMemory
	Alerts(limit int) []model.Alert
	Signals(limit int) []model.SignalEvent
}

type Options struct {
	Config  *config.Manager
	Session SessionControl
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ingest accepts POST /signals when set.
	Ingest  http.Handler
	Logger  *slog.Logger
	Version string
}

type Server struct {
	cfg     *config.Manager
	session SessionControl
	metrics http.Handler
	ingest  http.Handler
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string               `json:"status"`
	Time       string               `json:"time"`
	Version    string               `json:"version"`
	ConfigPath string               `json:"config_path"`
	Session    sessionStatus        `json:"session"`
	Context    model.SessionContext `json:"context"`
	Source     string               `json:"source"`
	Storage    bool                 `json:"storage"`
}

type sessionStatus struct {
	ID        string        `json:"id"`
	State     session.State `json:"state"`
	Seq       uint64        `json:"seq"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Signals   int           `json:"signals"`
	Alerts    int           `json:"alerts"`
}

func NewServer(opts Options) *Server {
	return &Server{
		cfg:     opts.Config,
		session: opts.Session,
		metrics: opts.Metrics,
		ingest:  opts.Ingest,
		logger:  opts.Logger,
		version: opts.Version,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.logger != nil {
		r.Use(requestLogger(s.logger))
	}
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/risks", s.handleRisks)
	r.Get("/memory", s.handleMemory)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/signals", s.handleSignals)
	r.Get("/report", s.handleReport)
	r.Get("/context", s.handleGetContext)
	r.Put("/context", s.handlePutContext)
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/reset", s.handleReset)
	})
	if s.ingest != nil {
		r.Method(http.MethodPost, "/signals", s.ingest)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start serves the API until ctx is cancelled. It returns nil when the API is
// disabled.
func Start(ctx context.Context, opts Options) *http.Server {
	if opts.Config == nil {
		return nil
	}
	current := opts.Config.Get().API
	if !current.Enabled {
		if opts.Logger != nil {
			opts.Logger.Info("api disabled")
		}
		return nil
	}
	if opts.Logger != nil {
		opts.Logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(opts).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if opts.Logger != nil {
				opts.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
		Session: sessionStatus{
			ID:      snap.SessionID,
			State:   snap.State,
			Seq:     snap.Seq,
			Signals: len(snap.Signals),
			Alerts:  len(snap.Alerts),
		},
		Context: snap.Context,
	}
	if !snap.StartedAt.IsZero() {
		resp.Session.StartedAt = &snap.StartedAt
	}
	if s.cfg != nil {
		cfg := s.cfg.Get()
		resp.ConfigPath = s.cfg.Path()
		resp.Source = cfg.Source.Driver
		resp.Storage = cfg.Storage.Enabled
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRisks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"risks": s.session.Risks()})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Memory())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	list := s.session.Alerts(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	list := s.session.Signals(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": list,
		"count":   len(list),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Build(s.session.Snapshot()))
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot().Context)
}

func (s *Server) handlePutContext(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	previous := s.session.Snapshot().Context
	cc := config.ContextFrom(previous)
	if err := json.Unmarshal(body, &cc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sc := cc.SessionContext()
	if err := s.session.SetContext(sc); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if s.cfg != nil {
		next := *s.cfg.Get()
		next.Session.Context = config.ContextFrom(sc)
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Warn("context persist failed", "err", err)
			}
			if rbErr := s.session.SetContext(previous); rbErr != nil && s.logger != nil {
				s.logger.Warn("context rollback failed", "err", rbErr)
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, s.session.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.transition(w, s.session.Stop)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.transition(w, func() error {
		s.session.Reset()
		return nil
	})
}

func (s *Server) transition(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.session.Snapshot().State})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrSessionIdle):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidContext):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
