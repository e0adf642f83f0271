package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestErrors counts failed provider calls by failure reason, so rate
	// limits and quota exhaustion are distinguishable from the rest.
	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atende_provider_errors_total",
		Help: "Provider request failures by classified reason.",
	}, []string{"reason"})

	requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atende_provider_requests_total",
		Help: "Provider requests issued.",
	})
)

func recordRequest(err error) {
	requests.Inc()
	if err != nil {
		requestErrors.WithLabelValues(string(Classify(err))).Inc()
	}
}
