package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atende_jobs_processed_total",
		Help: "Consumed queue jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	duplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atende_duplicate_messages_total",
		Help: "Inbound messages skipped by the idempotency store.",
	})
)
