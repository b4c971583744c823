package mutation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
	outcomeUndone  = "undone"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutator_mutations_total",
		Help: "Total number of settled mutations by mode and outcome",
	}, []string{"mode", "outcome"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutator_rollbacks_total",
		Help: "Total number of snapshot restores by reason",
	}, []string{"reason"})

	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mutator_mutation_duration_seconds",
		Help:    "Time from issuing a mutation to its settlement",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)
