// Package metrics registers the Prometheus collectors for delivery and
// tracking. Collectors are package globals registered with the default
// registry, so every binary exposes them on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deliveries counts recipient outcomes by status (sent, failed, skipped).
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_mailer_deliveries_total",
		Help: "Recipient delivery outcomes",
	}, []string{"status"})

	// Retries counts transport retries after a failed first attempt.
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_mailer_delivery_retries_total",
		Help: "Transport retries",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_mailer_batch_duration_seconds",
		Help:    "Time spent processing one batch",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	QuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_mailer_quota_remaining",
		Help: "Emails that can still be sent in the current quota window",
	})

	TrackingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_mailer_tracking_events_total",
		Help: "Tracking events by type",
	}, []string{"type"})

	// Transitions counts campaign state changes by target status.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_mailer_campaign_transitions_total",
		Help: "Campaign status transitions",
	}, []string{"to"})
)

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
