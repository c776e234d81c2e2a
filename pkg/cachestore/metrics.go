package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ensureHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "envy_cachestore_ensure_total",
		Help: "Outcomes of cache store Ensure calls",
	},
	[]string{"outcome"}, // fast_path, fast_path_after_wait, install_path
)
