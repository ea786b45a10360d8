// Package metrics exposes the session pipeline as Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskpulse/internal/model"
)

const namespace = "riskpulse"

// Recorder implements session.Recorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	riskProbability *prometheus.GaugeVec
	riskConfidence  *prometheus.GaugeVec
	riskPeak        *prometheus.GaugeVec
	sustained       *prometheus.GaugeVec
	ticksTotal      prometheus.Counter
	alertsTotal     *prometheus.CounterVec
	sessionActive   prometheus.Gauge
	lastTick        prometheus.Gauge

	mu      sync.Mutex
	tracked map[model.RiskName]struct{}
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		riskProbability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "probability",
			Help:      "Smoothed risk probability (0-100) by risk name.",
		}, []string{"risk"}),
		riskConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "confidence",
			Help:      "Confidence attached to the latest risk estimate.",
		}, []string{"risk"}),
		riskPeak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "peak",
			Help:      "Highest probability observed since the session started.",
		}, []string{"risk"}),
		sustained: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "sustained_elevation_seconds",
			Help:      "Continuous time an escalation risk has stayed above threshold.",
		}, []string{"risk"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "ticks_total",
			Help:      "Total processed pipeline ticks.",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "alerts_total",
			Help:      "Total alerts raised by severity.",
		}, []string{"severity"}),
		sessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "1 while the session is ticking.",
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the latest processed tick.",
		}),
		tracked: make(map[model.RiskName]struct{}),
	}
	r.registry.MustRegister(
		r.riskProbability,
		r.riskConfidence,
		r.riskPeak,
		r.sustained,
		r.ticksTotal,
		r.alertsTotal,
		r.sessionActive,
		r.lastTick,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveTick(tick model.Tick) {
	r.ticksTotal.Inc()
	r.lastTick.Set(float64(tick.Timestamp.UnixNano()) / float64(time.Second))
	for _, s := range tick.Risks {
		name := string(s.Name)
		r.riskProbability.WithLabelValues(name).Set(float64(s.Probability))
		r.riskConfidence.WithLabelValues(name).Set(s.Confidence)
	}
	for name, p := range tick.Memory.Peaks {
		r.riskPeak.WithLabelValues(string(name)).Set(float64(p.Value))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.tracked {
		if _, ok := tick.Memory.Sustained[name]; !ok {
			r.sustained.DeleteLabelValues(string(name))
			delete(r.tracked, name)
		}
	}
	for name, e := range tick.Memory.Sustained {
		r.sustained.WithLabelValues(string(name)).Set(e.Duration.Seconds())
		r.tracked[name] = struct{}{}
	}
}

func (r *Recorder) ObserveAlerts(alerts []model.Alert) {
	for _, a := range alerts {
		r.alertsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
}

func (r *Recorder) SetActive(active bool) {
	if active {
		r.sessionActive.Set(1)
		return
	}
	r.sessionActive.Set(0)
}

// Reset clears per-risk series. Counters are monotonic and survive resets.
func (r *Recorder) Reset() {
	r.riskProbability.Reset()
	r.riskConfidence.Reset()
	r.riskPeak.Reset()
	r.sustained.Reset()
	r.sessionActive.Set(0)
	r.mu.Lock()
	r.tracked = make(map[model.RiskName]struct{})
	r.mu.Unlock()
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
