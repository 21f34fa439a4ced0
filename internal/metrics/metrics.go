package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "booking_submitted_total",
			Help:      "Count of booking submissions by outcome.",
		},
		[]string{"outcome"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled by users.",
		},
	)

	availabilityLookup = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "availability_lookup_total",
			Help:      "Availability cache lookups by result.",
		},
		[]string{"result"},
	)

	availabilityFailOpen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "availability_fail_open_total",
			Help:      "Availability fetches that failed open to an empty conflict list.",
		},
	)

	pricingFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "pricing_fallback_total",
			Help:      "Pricing previews that fell back to the flat rate.",
		},
	)

	paymentReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pitchbook",
			Name:      "payment_reconciled_total",
			Help:      "Payment-return reconciliations by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingSubmitted,
			bookingCancelled,
			availabilityLookup,
			availabilityFailOpen,
			pricingFallback,
			paymentReconciled,
		)
	})
}

func IncBookingSubmitted(outcome string) {
	bookingSubmitted.WithLabelValues(outcome).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncAvailabilityLookup(result string) {
	availabilityLookup.WithLabelValues(result).Inc()
}

func IncAvailabilityFailOpen() {
	availabilityFailOpen.Inc()
}

func IncPricingFallback() {
	pricingFallback.Inc()
}

func IncPaymentReconciled(result string) {
	paymentReconciled.WithLabelValues(result).Inc()
}
