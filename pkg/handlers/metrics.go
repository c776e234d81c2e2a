package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var phaseDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "envy_handlers_phase_duration_seconds",
		Help:    "Wall-clock duration of one node's phase handler invocation",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"phase"},
)

var checkOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "envy_handlers_check_total",
		Help: "CHECK verb outcomes: short_circuit or proceed",
	},
	[]string{"outcome"},
)
