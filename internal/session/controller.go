// Package session drives the signal pipeline for a single negotiation
// session: it owns every piece of mutable state and serializes ticks so that
// smoothing and elevation timers always see ticks in order.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskpulse/internal/alerts"
	"riskpulse/internal/engine"
	"riskpulse/internal/ingest"
	"riskpulse/internal/model"
)

type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

var (
	ErrSessionActive  = errors.New("session: operation requires an idle session")
	ErrSessionIdle    = errors.New("session: operation requires an active session")
	ErrInvalidContext = errors.New("session: invalid context")
)

const (
	MessageStarted = "Session started"
	MessagePaused  = "Session paused"
)

// Journal records ticks outside the process. Failures never fail a tick.
type Journal interface {
	SaveTick(ctx context.Context, tick model.Tick) error
	SaveAlerts(ctx context.Context, sessionID string, alerts []model.Alert) error
	Clear(ctx context.Context) error
}

// Recorder receives pipeline observations for metrics.
type Recorder interface {
	ObserveTick(tick model.Tick)
	ObserveAlerts(alerts []model.Alert)
	SetActive(active bool)
	Reset()
}

type Options struct {
	SessionID    string
	Context      model.SessionContext
	TickInterval time.Duration
	HistoryLimit int
	AlertLimit   int
	DedupeWindow time.Duration
	// Rand seeds confidence draws; nil uses a time seeded source.
	Rand *rand.Rand
	// Clock defaults to time.Now in UTC.
	Clock    func() time.Time
	Source   ingest.Source
	Journal  Journal
	Recorder Recorder
	Logger   *slog.Logger
	// Manual disables the internal ticker; callers drive the session with Tick.
	Manual bool
}

type Controller struct {
	mu sync.Mutex
	// effects orders journal and recorder calls. It is taken while mu is
	// held and kept after mu is released, so reads never wait on I/O.
	effects sync.Mutex

	state     State
	sessionID string
	context   model.SessionContext
	risks     []model.RiskState
	history   *engine.History
	alerts    *alerts.Store
	tracker   *engine.Tracker
	calc      *engine.Calculator
	dedupe    *engine.DuplicateFilter
	seq       uint64
	startedAt time.Time

	source   ingest.Source
	journal  Journal
	recorder Recorder
	logger   *slog.Logger
	clock    func() time.Time
	interval time.Duration
	manual   bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if !opts.Context.Valid() {
		opts.Context = model.DefaultSessionContext()
	}
	initial := model.InitialRiskStates()
	return &Controller{
		state:     StateIdle,
		sessionID: opts.SessionID,
		context:   opts.Context,
		risks:     initial,
		history:   engine.NewHistory(opts.HistoryLimit),
		alerts:    alerts.NewStore(opts.AlertLimit),
		tracker:   engine.NewTracker(initial),
		calc:      engine.NewCalculator(opts.Rand),
		dedupe:    engine.NewDuplicateFilter(opts.DedupeWindow),
		source:    opts.Source,
		journal:   opts.Journal,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		clock:     opts.Clock,
		interval:  opts.TickInterval,
		manual:    opts.Manual,
	}
}

// Start captures the current risk states as the baseline, clears peaks and
// elevation timers and begins ticking.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return ErrSessionActive
	}
	now := c.clock()
	c.tracker.Reset(c.risks)
	c.state = StateActive
	c.startedAt = now
	notice := c.lifecycleAlert(MessageStarted, "session_started", now)
	c.alerts.Replace(notice)
	if !c.manual {
		c.startLoop()
	}
	stakes := c.context.StakesLevel
	c.unlockThen(func() { c.afterTransition(true, notice) })

	if c.logger != nil {
		c.logger.Info("session started", "session_id", c.sessionID, "stakes", stakes)
	}
	return nil
}

// Stop halts ticking. Once Stop returns no further tick is processed.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrSessionIdle
	}
	c.state = StateIdle
	notice := c.lifecycleAlert(MessagePaused, "session_paused", c.clock())
	c.alerts.Prepend(notice)
	cancel, done := c.detachLoop()
	c.unlockThen(func() { c.afterTransition(false, notice) })

	waitLoop(cancel, done)
	if c.logger != nil {
		c.logger.Info("session paused", "session_id", c.sessionID, "ticks", c.Seq())
	}
	return nil
}

// Reset returns the session to its initial idle state from either state.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.state = StateIdle
	c.risks = model.InitialRiskStates()
	c.history.Clear()
	c.alerts.Clear()
	c.tracker.Reset(c.risks)
	c.dedupe.Clear()
	c.seq = 0
	c.startedAt = time.Time{}
	cancel, done := c.detachLoop()
	c.unlockThen(func() {
		if c.recorder != nil {
			c.recorder.Reset()
		}
		if c.journal != nil {
			if err := c.journal.Clear(context.Background()); err != nil && c.logger != nil {
				c.logger.Warn("journal clear failed", "err", err)
			}
		}
	})

	waitLoop(cancel, done)
	if c.logger != nil {
		c.logger.Info("session reset", "session_id", c.sessionID)
	}
}

// Close stops the ticker without touching session state.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel, done := c.detachLoop()
	c.mu.Unlock()
	waitLoop(cancel, done)
}

// SetContext changes the scoring context. It is only allowed while idle.
func (c *Controller) SetContext(sc model.SessionContext) error {
	if !sc.Valid() {
		return ErrInvalidContext
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		return ErrSessionActive
	}
	c.context = sc
	return nil
}

// Tick runs one pipeline pass. It reports false when the session is idle or
// the source had nothing to offer.
func (c *Controller) Tick(ctx context.Context) (model.Tick, bool) {
	c.mu.Lock()
	if c.state != StateActive || c.source == nil {
		c.mu.Unlock()
		return model.Tick{}, false
	}
	ev, err := c.source.Next(ctx)
	if err != nil {
		c.mu.Unlock()
		if !errors.Is(err, ingest.ErrNoSignal) && c.logger != nil && ctx.Err() == nil {
			c.logger.Warn("signal source error", "err", err)
		}
		return model.Tick{}, false
	}
	tick, ok := c.process(ev)
	if !ok {
		c.mu.Unlock()
		return model.Tick{}, false
	}
	c.unlockThen(func() { c.observe(ctx, tick) })
	return tick, true
}

// process runs the pipeline for ev; c.mu must be held.
func (c *Controller) process(ev model.SignalEvent) (model.Tick, bool) {
	now := c.clock()
	if ev.SessionID == "" {
		ev.SessionID = c.sessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if c.dedupe.Seen(ev, now) {
		if c.logger != nil {
			c.logger.Debug("duplicate signal dropped", "session_id", ev.SessionID, "timestamp", ev.Timestamp)
		}
		return model.Tick{}, false
	}

	c.history.Add(ev)
	c.risks = c.calc.Calculate(ev, c.risks, c.context)
	memory := c.tracker.Update(c.risks, now)
	fresh := engine.DetectAlerts(ev, c.risks, now)
	c.alerts.Prepend(fresh...)
	c.seq++

	tick := model.Tick{
		Seq:       c.seq,
		SessionID: c.sessionID,
		Timestamp: now,
		Signal:    ev,
		Risks:     model.CloneRiskStates(c.risks),
		Memory:    memory,
		Alerts:    fresh,
	}
	return tick, true
}

func (c *Controller) observe(ctx context.Context, tick model.Tick) {
	if c.recorder != nil {
		c.recorder.ObserveTick(tick)
		c.recorder.ObserveAlerts(tick.Alerts)
	}
	if c.journal != nil {
		if err := c.journal.SaveTick(context.WithoutCancel(ctx), tick); err != nil && c.logger != nil {
			c.logger.Warn("journal tick write failed", "seq", tick.Seq, "err", err)
		}
	}
	c.logAlerts(tick.Alerts)
}

// unlockThen releases c.mu and runs fn while holding c.effects, so side
// effects keep the order of the state changes that produced them.
func (c *Controller) unlockThen(fn func()) {
	c.effects.Lock()
	c.mu.Unlock()
	defer c.effects.Unlock()
	fn()
}

func (c *Controller) logAlerts(batch []model.Alert) {
	if c.logger == nil {
		return
	}
	for _, a := range batch {
		level := slog.LevelInfo
		if a.Severity != model.SeverityInfo {
			level = slog.LevelWarn
		}
		c.logger.Log(context.Background(), level, "alert raised",
			"session_id", c.sessionID,
			"rule", a.Rule,
			"severity", a.Severity,
			"message", a.Message,
		)
	}
}

func (c *Controller) lifecycleAlert(message, rule string, now time.Time) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Severity:  model.SeverityInfo,
		Message:   message,
		Timestamp: now,
		Rule:      rule,
	}
}

func (c *Controller) afterTransition(active bool, notice model.Alert) {
	notices := []model.Alert{notice}
	if c.recorder != nil {
		c.recorder.SetActive(active)
		c.recorder.ObserveAlerts(notices)
	}
	if c.journal != nil {
		if err := c.journal.SaveAlerts(context.Background(), c.sessionID, notices); err != nil && c.logger != nil {
			c.logger.Warn("journal alert write failed", "err", err)
		}
	}
}

func (c *Controller) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}()
}

// detachLoop must be called with c.mu held.
func (c *Controller) detachLoop() (context.CancelFunc, chan struct{}) {
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel = nil
	c.loopDone = nil
	return cancel, done
}

func waitLoop(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
