// Package metrics exposes Prometheus counters for the order subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook outcome labels.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeDuplicate = "duplicate"
	OutcomeMismatch  = "amount_mismatch"
	OutcomeUnmatched = "unmatched"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics holds the counters of the order service.
type Metrics struct {
	WebhookOutcomes *prometheus.CounterVec
	OrdersCreated   *prometheus.CounterVec
}

// New registers the service counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orders",
		Name:      "webhook_outcomes_total",
		Help:      "Bank-transfer webhook deliveries by reconciliation outcome.",
	}, []string{"outcome"})

	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orders",
		Name:      "created_total",
		Help:      "Orders created by kind.",
	}, []string{"kind"})

	reg.MustRegister(webhookOutcomes, ordersCreated)

	return &Metrics{
		WebhookOutcomes: webhookOutcomes,
		OrdersCreated:   ordersCreated,
	}
}

// Handler returns the scrape endpoint for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
