// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	holdsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "holds_total",
			Help:      "Hold acquisitions by result (created, extended, rejected).",
		},
		[]string{"result"},
	)

	holdsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "holds_swept_total",
			Help:      "Expired holds deleted by the sweeper.",
		},
	)

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "bookings_created_total",
			Help:      "Bookings created at checkout.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions.",
		},
		[]string{"from", "to"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "webhook_events_total",
			Help:      "Provider webhook deliveries by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parking",
			Name:      "notifications_total",
			Help:      "Confirmation side effects by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(holdsTotal, holdsSwept, bookingsCreated, bookingTransitions, webhookEvents, notifications)
	})
}

func IncHold(result string) {
	holdsTotal.WithLabelValues(result).Inc()
}

func AddHoldsSwept(n int64) {
	if n > 0 {
		holdsSwept.Add(float64(n))
	}
}

func IncBookingCreated() {
	bookingsCreated.Inc()
}

func IncBookingTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func IncWebhookEvent(provider, outcome string) {
	webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func IncNotification(channel, outcome string) {
	notifications.WithLabelValues(channel, outcome).Inc()
}
