package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States lists the controller states exported by current_state.
var States = []string{"idle", "discovering", "auditing", "completed"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	auditTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botregistry",
			Name:      "audit_total",
			Help:      "Number of audits by bot and outcome status.",
		}, []string{"bot", "status"},
	)
	auditDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botregistry",
			Name:      "audit_duration_seconds",
			Help:      "Wall-clock time of one bot self-check.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"bot"},
	)
	auditPeakRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botregistry",
			Name:      "audit_peak_rss_bytes",
			Help:      "Peak resident set size sampled during the last audit of a bot.",
		}, []string{"bot"},
	)
	digestDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botregistry",
			Name:      "digest_drift_total",
			Help:      "Number of runs in which a bot's digest differed from its last good digest.",
		}, []string{"bot"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botregistry",
			Name:      "runs_total",
			Help:      "Number of completed registry runs by result.",
		}, []string{"result"},
	)
	botsDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botregistry",
			Name:      "bots_discovered",
			Help:      "Bots discovered by the last run.",
		},
	)
	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botregistry",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last run completed.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botregistry",
			Name:      "state_transitions_total",
			Help:      "Number of controller state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botregistry",
			Name:      "current_state",
			Help:      "Current controller state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{auditTotal, auditDuration, auditPeakRSS, digestDrift, runsTotal, botsDiscovered, lastRunTimestamp, stateTransitions, currentState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveAudit(bot, status string, d time.Duration, peakRSS uint64) {
	if !regOK.Load() {
		return
	}
	auditTotal.WithLabelValues(bot, status).Inc()
	auditDuration.WithLabelValues(bot).Observe(d.Seconds())
	if peakRSS > 0 {
		auditPeakRSS.WithLabelValues(bot).Set(float64(peakRSS))
	}
}

func IncDigestDrift(bot string) {
	if regOK.Load() {
		digestDrift.WithLabelValues(bot).Inc()
	}
}

// ObserveRun records a finished run. result is one of success, failure,
// error or cancelled.
func ObserveRun(result string, discovered int, finished time.Time) {
	if !regOK.Load() {
		return
	}
	runsTotal.WithLabelValues(result).Inc()
	botsDiscovered.Set(float64(discovered))
	lastRunTimestamp.Set(float64(finished.UnixNano()) / 1e9)
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state active and every other known state inactive.
func SetCurrentState(state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range States {
		var value float64
		if s == state {
			value = 1
		}
		currentState.WithLabelValues(s).Set(value)
	}
}
