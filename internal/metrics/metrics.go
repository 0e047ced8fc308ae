package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hookInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_hook_invocations_total",
			Help: "Total number of calls through installed hook wrappers",
		},
		[]string{"path", "kind"},
	)

	hookHandlers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_hook_handlers_total",
			Help: "Total number of hook handler executions",
		},
		[]string{"path", "phase"},
	)

	hooksInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_hook_wrappers_installed",
			Help: "Number of paths with an installed hook wrapper",
		},
	)

	hookRegistrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_hook_registrations",
			Help: "Number of live hook registrations",
		},
	)

	moduleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_module_transitions_total",
			Help: "Total number of module state transitions",
		},
		[]string{"state"},
	)

	moduleInitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_module_init_duration_seconds",
			Help:    "Time from initializer start to completion callback",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"module", "status"},
	)

	bootOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_boot_outcomes_total",
			Help: "Total number of initialization passes by outcome",
		},
		[]string{"outcome"},
	)

	remoteFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_remote_fetches_total",
			Help: "Total number of remote dependency loads by source",
		},
		[]string{"source", "status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHookInvocation(path, kind string) {
	hookInvocations.WithLabelValues(path, kind).Inc()
}

func RecordHookHandler(path, phase string) {
	hookHandlers.WithLabelValues(path, phase).Inc()
}

func IncrementWrappers() {
	hooksInstalled.Inc()
}

func UpdateRegistrations(delta int) {
	hookRegistrations.Add(float64(delta))
}

func RecordTransition(state string) {
	moduleTransitions.WithLabelValues(state).Inc()
}

func RecordModuleInit(module string, ok bool, duration time.Duration) {
	moduleInitDuration.WithLabelValues(module, status(ok)).Observe(duration.Seconds())
}

func RecordBoot(outcome string) {
	bootOutcomes.WithLabelValues(outcome).Inc()
}

func RecordRemoteFetch(source string, ok bool) {
	remoteFetches.WithLabelValues(source, status(ok)).Inc()
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
