package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	webhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_received_total",
			Help: "Webhooks reçus, par provider et résultat",
		},
		[]string{"provider", "result"},
	)

	transitionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_applied_total",
			Help: "Transitions de statut réellement écrites",
		},
		[]string{"to"},
	)

	duplicateWebhooks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_webhooks_duplicate_total",
			Help: "Webhooks redondants (event id déjà vu ou ligne déjà terminale)",
		},
	)

	invalidSignatures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_webhooks_invalid_signature_total",
			Help: "Webhooks rejetés pour signature absente ou invalide",
		},
	)
)

func registerMetrics() {
	prometheus.MustRegister(webhooksReceived)
	prometheus.MustRegister(transitionsApplied)
	prometheus.MustRegister(duplicateWebhooks)
	prometheus.MustRegister(invalidSignatures)
}
