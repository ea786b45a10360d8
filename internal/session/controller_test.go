package session

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskpulse/internal/engine"
	"riskpulse/internal/ingest"
	"riskpulse/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fixedSource returns a fresh copy of the same readings on every call.
type fixedSource struct {
	voice, ling, inter, temp map[string]float64
}

func (s fixedSource) Next(ctx context.Context) (model.SignalEvent, error) {
	cp := func(m map[string]float64) model.MetricGroup {
		out := model.MetricGroup{}
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return model.SignalEvent{
		Channel: model.ChannelMixed,
		Signals: model.Signals{
			Voice:       cp(s.voice),
			Linguistic:  cp(s.ling),
			Interaction: cp(s.inter),
			Temporal:    cp(s.temp),
		},
	}, nil
}

var calmSource = fixedSource{
	voice: map[string]float64{model.MetricVolumeVariance: 0.5},
	inter: map[string]float64{model.MetricTurnBalanceIndex: 0.5},
	ling:  map[string]float64{model.MetricCertaintyRatio: 0.8},
}

var noisySource = fixedSource{
	voice: map[string]float64{model.MetricVolumeVariance: 3, model.MetricInterruptionRate: 0.5},
	inter: map[string]float64{model.MetricTurnBalanceIndex: 0.1},
	temp:  map[string]float64{model.MetricUrgencyMarkerDensity: 5},
}

func newTestController(t *testing.T, src ingest.Source, clock *fakeClock) *Controller {
	t.Helper()
	c := New(Options{
		SessionID: "test-session",
		Rand:      rand.New(rand.NewPCG(1, 1)),
		Clock:     clock.Now,
		Source:    src,
		Manual:    true,
	})
	t.Cleanup(c.Close)
	return c
}

func tickN(t *testing.T, c *Controller, clock *fakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		clock.Advance(time.Second)
		_, ok := c.Tick(context.Background())
		require.True(t, ok, "tick %d not processed", i)
	}
}

func TestNewControllerIsIdleWithDefaults(t *testing.T) {
	c := newTestController(t, calmSource, newFakeClock())
	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, model.InitialRiskStates(), snap.Risks)
	assert.Empty(t, snap.Alerts)
	assert.Empty(t, snap.Signals)

	_, ok := c.Tick(context.Background())
	assert.False(t, ok, "idle session must not tick")
}

func TestStartEmitsLifecycleAlertAndBaseline(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, calmSource, clock)
	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrSessionActive)

	list := c.Alerts(0)
	require.Len(t, list, 1)
	assert.Equal(t, MessageStarted, list[0].Message)
	assert.Equal(t, model.SeverityInfo, list[0].Severity)
	assert.Equal(t, model.InitialRiskStates(), c.Memory().Baseline)
}

func TestStartCapturesCurrentRisksAsBaseline(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())
	tickN(t, c, clock, 5)
	require.NoError(t, c.Stop())

	current := c.Risks()
	require.NotEqual(t, model.InitialRiskStates(), current)
	require.NoError(t, c.Start())

	mem := c.Memory()
	assert.Equal(t, current, mem.Baseline)
	assert.Empty(t, mem.Peaks)
	assert.Empty(t, mem.Sustained)
}

func TestStopHaltsTicksAndKeepsState(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	assert.ErrorIs(t, c.Stop(), ErrSessionIdle)

	require.NoError(t, c.Start())
	tickN(t, c, clock, 3)
	require.NoError(t, c.Stop())

	before := c.Snapshot()
	_, ok := c.Tick(context.Background())
	assert.False(t, ok)
	after := c.Snapshot()

	assert.Equal(t, StateIdle, after.State)
	assert.Equal(t, before.Seq, after.Seq)
	assert.Len(t, after.Signals, 3)
	assert.Equal(t, MessagePaused, after.Alerts[0].Message)
	assert.NotEqual(t, model.InitialRiskStates(), after.Risks)
	assert.NotEmpty(t, after.Memory.Peaks)
}

func TestResetIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())
	tickN(t, c, clock, 10)

	c.Reset()
	first := c.Snapshot()
	c.Reset()
	second := c.Snapshot()

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	assert.Equal(t, StateIdle, second.State)
	assert.Equal(t, model.InitialRiskStates(), second.Risks)
	assert.Equal(t, model.InitialRiskStates(), second.Memory.Baseline)
	assert.Empty(t, second.Memory.Peaks)
	assert.Empty(t, second.Memory.Sustained)
	assert.Empty(t, second.Alerts)
	assert.Empty(t, second.Signals)
	assert.Zero(t, second.Seq)
}

func TestResetWhileIdle(t *testing.T) {
	c := newTestController(t, calmSource, newFakeClock())
	c.Reset()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, model.InitialRiskStates(), c.Risks())
}

func TestSetContextOnlyWhileIdle(t *testing.T) {
	c := newTestController(t, calmSource, newFakeClock())
	high := model.SessionContext{
		NegotiationType:   model.NegotiationConflict,
		StakesLevel:       model.StakesHigh,
		RelationshipStage: model.StageClosing,
	}
	require.NoError(t, c.SetContext(high))
	assert.Equal(t, high, c.Context())

	assert.ErrorIs(t, c.SetContext(model.SessionContext{StakesLevel: "extreme"}), ErrInvalidContext)

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.SetContext(model.DefaultSessionContext()), ErrSessionActive)
	assert.Equal(t, high, c.Context())

	require.NoError(t, c.Stop())
	assert.NoError(t, c.SetContext(model.DefaultSessionContext()))
}

func TestAlertLogIsCapped(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())
	for i := 0; i < 15; i++ {
		clock.Advance(time.Second)
		tick, ok := c.Tick(context.Background())
		require.True(t, ok)
		assert.LessOrEqual(t, len(tick.Alerts), engine.MaxAlertsPerTick)
	}
	list := c.Alerts(0)
	assert.Len(t, list, 20)
	assert.NotEqual(t, MessageStarted, list[len(list)-1].Message, "oldest entries are dropped first")
}

func TestSignalHistoryIsBounded(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, calmSource, clock)
	require.NoError(t, c.Start())
	tickN(t, c, clock, 75)
	signals := c.Signals(0)
	assert.Len(t, signals, 60)
	assert.Equal(t, "test-session", signals[0].SessionID)
	assert.Len(t, c.Signals(10), 10)
}

func TestPeaksNeverDecreaseAcrossTicks(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())
	prev := map[model.RiskName]int{}
	for i := 0; i < 20; i++ {
		src := noisySource
		if i%3 == 0 {
			src = calmSource
		}
		c.source = src
		clock.Advance(time.Second)
		tick, ok := c.Tick(context.Background())
		require.True(t, ok)
		for _, name := range model.RiskNames {
			peak := tick.Memory.Peaks[name]
			assert.GreaterOrEqual(t, peak.Value, prev[name])
			prev[name] = peak.Value
		}
	}
}

func TestIrreversibleMarkerAfterSustainedBacklash(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())

	var crossed time.Time
	for i := 0; i < 60; i++ {
		clock.Advance(time.Second)
		tick, ok := c.Tick(context.Background())
		require.True(t, ok)
		backlash, _ := model.FindRisk(tick.Risks, model.RiskBacklash)
		if backlash.Probability > engine.EscalationThreshold && crossed.IsZero() {
			crossed = clock.Now()
		}
		if crossed.IsZero() {
			continue
		}
		elapsed := clock.Now().Sub(crossed)
		assert.Equal(t, elapsed >= engine.IrreversibleAfter, c.Irreversible(model.RiskBacklash), "elapsed %s", elapsed)
	}
	require.False(t, crossed.IsZero(), "backlash never crossed the escalation threshold")
	assert.True(t, c.Irreversible(model.RiskBacklash))

	c.source = calmSource
	for i := 0; i < 30 && c.Irreversible(model.RiskBacklash); i++ {
		clock.Advance(time.Second)
		c.Tick(context.Background())
	}
	assert.False(t, c.Irreversible(model.RiskBacklash))
	_, tracked := c.Memory().Sustained[model.RiskBacklash]
	assert.False(t, tracked)
}

func TestTickWithoutSignalIsSkipped(t *testing.T) {
	c := newTestController(t, ingest.NewQueue(4, nil), newFakeClock())
	require.NoError(t, c.Start())
	_, ok := c.Tick(context.Background())
	assert.False(t, ok)
	assert.Zero(t, c.Seq())
}

func TestDuplicateSignalsAreDropped(t *testing.T) {
	clock := newFakeClock()
	q := ingest.NewQueue(4, nil)
	c := New(Options{
		SessionID:    "s",
		Rand:         rand.New(rand.NewPCG(1, 1)),
		Clock:        clock.Now,
		Source:       q,
		DedupeWindow: time.Minute,
		Manual:       true,
	})
	require.NoError(t, c.Start())
	ev := model.SignalEvent{SessionID: "s", Timestamp: clock.Now(), Channel: model.ChannelMixed}
	ctx := context.Background()
	q.Push(ctx, ev)
	q.Push(ctx, ev)
	_, ok := c.Tick(ctx)
	assert.True(t, ok)
	_, ok = c.Tick(ctx)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Seq())
}

func TestRunLoopTicksUntilStopped(t *testing.T) {
	c := New(Options{
		SessionID:    "loop",
		TickInterval: 5 * time.Millisecond,
		Rand:         rand.New(rand.NewPCG(2, 2)),
		Source:       calmSource,
	})
	t.Cleanup(c.Close)
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.Seq() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	frozen := c.Seq()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, c.Seq())
}

func TestConcurrentTicksAreSerialized(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(t, noisySource, clock)
	require.NoError(t, c.Start())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				c.Tick(context.Background())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(200), c.Seq())
	assert.Len(t, c.Signals(0), 60)
}

type recordingJournal struct {
	mu      sync.Mutex
	ticks   []model.Tick
	alerts  []model.Alert
	cleared int
}

func (j *recordingJournal) SaveTick(_ context.Context, tick model.Tick) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ticks = append(j.ticks, tick)
	return nil
}

func (j *recordingJournal) SaveAlerts(_ context.Context, _ string, alerts []model.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts = append(j.alerts, alerts...)
	return nil
}

func (j *recordingJournal) Clear(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleared++
	return nil
}

type recordingRecorder struct {
	ticks, alerts, resets int
	active                bool
}

func (r *recordingRecorder) ObserveTick(model.Tick)        { r.ticks++ }
func (r *recordingRecorder) ObserveAlerts(a []model.Alert) { r.alerts += len(a) }
func (r *recordingRecorder) SetActive(active bool)         { r.active = active }
func (r *recordingRecorder) Reset()                        { r.resets++ }

func TestJournalAndRecorderObserveTicks(t *testing.T) {
	clock := newFakeClock()
	j := &recordingJournal{}
	r := &recordingRecorder{}
	c := New(Options{
		SessionID: "observed",
		Rand:      rand.New(rand.NewPCG(1, 1)),
		Clock:     clock.Now,
		Source:    calmSource,
		Journal:   j,
		Recorder:  r,
		Manual:    true,
	})
	require.NoError(t, c.Start())
	assert.True(t, r.active)
	tickN(t, c, clock, 4)
	require.NoError(t, c.Stop())
	c.Reset()

	assert.Len(t, j.ticks, 4)
	assert.Equal(t, uint64(4), j.ticks[3].Seq)
	assert.Len(t, j.alerts, 2, "start and pause notices")
	assert.Equal(t, 1, j.cleared)
	assert.Equal(t, 4, r.ticks)
	assert.Equal(t, 1, r.resets)
	assert.False(t, r.active)
}

// gatedJournal blocks every write until release is closed.
type gatedJournal struct {
	entered chan string
	release chan struct{}
}

func (j *gatedJournal) wait(op string) error {
	j.entered <- op
	<-j.release
	return nil
}

func (j *gatedJournal) SaveTick(context.Context, model.Tick) error { return j.wait("tick") }
func (j *gatedJournal) SaveAlerts(context.Context, string, []model.Alert) error {
	return j.wait("alerts")
}
func (j *gatedJournal) Clear(context.Context) error { return j.wait("clear") }

func TestSlowJournalDoesNotBlockReads(t *testing.T) {
	j := &gatedJournal{entered: make(chan string, 8), release: make(chan struct{})}
	c := New(Options{
		SessionID: "slow",
		Rand:      rand.New(rand.NewPCG(1, 1)),
		Clock:     newFakeClock().Now,
		Source:    calmSource,
		Journal:   j,
		Manual:    true,
	})
	t.Cleanup(c.Close)

	resetDone := make(chan struct{})
	go func() {
		defer close(resetDone)
		c.Reset()
	}()
	select {
	case op := <-j.entered:
		assert.Equal(t, "clear", op)
	case <-time.After(2 * time.Second):
		t.Fatal("journal clear never started")
	}

	read := make(chan Snapshot, 1)
	go func() { read <- c.Snapshot() }()
	select {
	case snap := <-read:
		assert.Equal(t, StateIdle, snap.State)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot blocked behind journal I/O")
	}
	assert.NoError(t, c.SetContext(model.DefaultSessionContext()))

	close(j.release)
	<-resetDone

	require.NoError(t, c.Start())
	assert.Equal(t, "alerts", <-j.entered)
	_, ok := c.Tick(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "tick", <-j.entered)
}
