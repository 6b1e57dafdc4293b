package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of crash-triggered restart attempts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of requested stops.",
		}, []string{"service"},
	)
	serviceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Number of observed process exits by outcome.",
		}, []string{"service", "outcome"},
	)
	healthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "health_failures_total",
			Help:      "Number of failed health verifications.",
		}, []string{"service"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the health verification finished.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of a service process.",
		}, []string{"service"},
	)
	memoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackd",
			Subsystem: "service",
			Name:      "memory_mb",
			Help:      "Last sampled resident memory of a service process in MB.",
		}, []string{"service"},
	)
)

// States every service may be in; used to zero the inactive state gauges.
var states = []string{"stopped", "starting", "running", "restarting", "error"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops, serviceExits, healthFailures,
		startDuration, stateTransitions, currentStates, cpuPercent, memoryMB,
	}
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

// Below are lightweight helpers used by the supervisor to record metrics.
// They no-op if Register hasn't been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncExit(service string, success bool) {
	if regOK.Load() {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		serviceExits.WithLabelValues(service, outcome).Inc()
	}
}

func IncHealthFailure(service string) {
	if regOK.Load() {
		healthFailures.WithLabelValues(service).Inc()
	}
}

func ObserveStartDuration(service string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(service).Observe(seconds)
	}
}

// RecordStateTransition counts the transition and moves the current state gauge.
func RecordStateTransition(service, from, to string) {
	if !regOK.Load() {
		return
	}
	if from != to {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
	for _, s := range states {
		v := 0.0
		if s == to {
			v = 1
		}
		currentStates.WithLabelValues(service, s).Set(v)
	}
}

// ObserveUsage publishes a usage sample.
func ObserveUsage(service string, u Usage) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(service).Set(u.CPUPercent)
		memoryMB.WithLabelValues(service).Set(u.MemoryMB)
	}
}
