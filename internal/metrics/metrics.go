// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_created_total",
			Help: "Reservations created, by funding path",
		},
		[]string{"payment_status"},
	)

	ReservationsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_cancelled_total",
			Help: "Reservations cancelled, by trigger",
		},
		[]string{"reason"},
	)

	ReservationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_rejected_total",
			Help: "Reserve attempts refused, by error",
		},
		[]string{"reason"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events handled, by provider and result",
		},
		[]string{"provider", "result"},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Time taken by payment provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op", "result"},
	)

	OccurrencesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "occurrences_generated_total",
			Help: "Occurrences materialised from recurrence specs",
		},
	)
)

// Register adds every collector to reg.  Passing nil uses the default
// registerer served by promhttp.Handler.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		ReservationsCreated,
		ReservationsCancelled,
		ReservationsRejected,
		WebhookEvents,
		GatewayLatency,
		OccurrencesGenerated,
	)
}

// ObserveGateway records one provider call.
func ObserveGateway(provider, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayLatency.WithLabelValues(provider, op, result).Observe(time.Since(start).Seconds())
}
