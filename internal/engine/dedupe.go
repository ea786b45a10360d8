package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"riskpulse/internal/model"
)

// DuplicateFilter drops signal events already seen within ttl. Sources that
// redeliver (kafka rebalances, file replays) produce identical hashes.
type DuplicateFilter struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func NewDuplicateFilter(ttl time.Duration) *DuplicateFilter {
	return &DuplicateFilter{ttl: ttl, items: make(map[string]time.Time)}
}

func (d *DuplicateFilter) Seen(ev model.SignalEvent, now time.Time) bool {
	if d == nil || d.ttl <= 0 {
		return false
	}
	key := hashEvent(ev)
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= d.ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now)
	}
	return false
}

func (d *DuplicateFilter) Clear() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[string]time.Time)
}

func (d *DuplicateFilter) compact(now time.Time) {
	for k, ts := range d.items {
		if now.Sub(ts) > d.ttl {
			delete(d.items, k)
		}
	}
}

func hashEvent(ev model.SignalEvent) string {
	parts := []string{
		ev.SessionID,
		string(ev.Channel),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	groups := []model.MetricGroup{ev.Signals.Voice, ev.Signals.Linguistic, ev.Signals.Interaction, ev.Signals.Temporal}
	for i, g := range groups {
		for _, name := range g.Names() {
			parts = append(parts, strconv.Itoa(i)+":"+name+"="+strconv.FormatFloat(g[name], 'g', -1, 64))
		}
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
