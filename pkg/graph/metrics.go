package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var nodeCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "envy_graph_node_count",
		Help: "Number of recipe nodes currently registered",
	},
)
