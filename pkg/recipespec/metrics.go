package recipespec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var poolSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "envy_recipespec_pool_size",
		Help: "Number of specs currently allocated in the process-wide spec pool",
	},
)
