package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	summarizations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atende_summarizations_total",
		Help: "Thread resets via rolling summarization.",
	})

	summarizationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atende_summarization_failures_total",
		Help: "Summarization calls that failed and were skipped.",
	})
)
