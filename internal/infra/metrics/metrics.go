// Package metrics exposes tuner telemetry to Prometheus.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guitar-tuner/internal/application"
	"guitar-tuner/internal/domain"
)

// RingStats is the read side of the sample ring's counters.
type RingStats interface {
	Written() uint64
	Dropped() uint64
}

// TunerMetrics implements application.Recorder.
type TunerMetrics struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	state        *prometheus.GaugeVec
	frequency    prometheus.Gauge
	cents        prometheus.Gauge
	confidence   prometheus.Gauge
	locks        prometheus.Counter

	lastState domain.EngineState
}

func NewTunerMetrics(registry *prometheus.Registry, ring RingStats) (*TunerMetrics, error) {
	m := &TunerMetrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuner_ticks_total",
			Help: "Analysis ticks by outcome",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tuner_tick_duration_seconds",
			Help:    "Time spent in one analysis tick",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tuner_state",
			Help: "1 for the engine's current state, 0 otherwise",
		}, []string{"state"}),
		frequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tuner_frequency_hz",
			Help: "Smoothed detected frequency",
		}),
		cents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tuner_cents_offset",
			Help: "Offset from the nearest note in cents",
		}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tuner_confidence",
			Help: "Confidence of the latest estimate",
		}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tuner_locks_total",
			Help: "Transitions into the locked state",
		}),
		lastState: domain.StateIdle,
	}

	toRegister := []prometheus.Collector{
		m.ticks, m.tickDuration, m.state, m.frequency, m.cents, m.confidence, m.locks,
	}
	if ring != nil {
		toRegister = append(toRegister,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "tuner_ring_samples_written_total",
				Help: "Samples pushed into the ring buffer",
			}, func() float64 { return float64(ring.Written()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "tuner_ring_samples_dropped_total",
				Help: "Samples overwritten before they were analyzed",
			}, func() float64 { return float64(ring.Dropped()) }),
		)
	}

	for _, c := range toRegister {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering tuner metrics: %w", err)
		}
	}

	for _, s := range []domain.EngineState{domain.StateIdle, domain.StateListening, domain.StateLocked} {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	m.state.WithLabelValues(domain.StateIdle.String()).Set(1)

	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ObserveTick is called from the analysis goroutine only.
func (m *TunerMetrics) ObserveTick(outcome application.TickOutcome, state domain.TuningState, elapsed time.Duration) {
	m.ticks.WithLabelValues(string(outcome)).Inc()
	m.tickDuration.Observe(elapsed.Seconds())

	if state.State != m.lastState {
		m.state.WithLabelValues(m.lastState.String()).Set(0)
		m.state.WithLabelValues(state.State.String()).Set(1)
		if state.State == domain.StateLocked {
			m.locks.Inc()
		}
		m.lastState = state.State
	}

	m.frequency.Set(state.FrequencyHz)
	m.cents.Set(state.CentsOffset)
	m.confidence.Set(state.Confidence)
}

// Handler serves the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}
