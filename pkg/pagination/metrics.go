package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_pages_fetched_total",
		Help: "Total non-empty pages fetched by entity",
	}, []string{"entity"})

	recordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_records_fetched_total",
		Help: "Total records fetched by entity",
	}, []string{"entity"})

	gatherTracesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "langfuse_gather_traces_total",
		Help: "Total per-trace observation queries by outcome (ok, failed, cancelled)",
	}, []string{"outcome"})
)
