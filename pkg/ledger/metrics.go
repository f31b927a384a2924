package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerWrites tracks stored run records by status.
	LedgerWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langfuse_ledger_writes_total",
			Help: "Total number of run records written by status",
		},
		[]string{"status"},
	)

	// LedgerErrors tracks ledger operation errors.
	LedgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "langfuse_ledger_errors_total",
			Help: "Total number of run ledger operation errors",
		},
		[]string{"operation"}, // "get", "record", "delete"
	)
)
