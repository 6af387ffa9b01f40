package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	slotsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "slots_created_total",
			Help:      "Count of slots created from admin declarations.",
		},
	)

	slotsBooked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "slots_booked_total",
			Help:      "Count of successful bookings by actor.",
		},
		[]string{"actor"},
	)

	slotsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "slots_cancelled_total",
			Help:      "Count of cancellations by actor.",
		},
		[]string{"actor"},
	)

	slotsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "slots_swept_total",
			Help:      "Count of expired slots removed by the sweep.",
		},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "reminders_sent_total",
			Help:      "Count of reminders delivered by kind.",
		},
		[]string{"kind"},
	)

	reminderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "appointbot",
			Name:      "reminder_failures_total",
			Help:      "Count of reminder deliveries that failed after retries.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(slotsCreated, slotsBooked, slotsCancelled,
			slotsSwept, remindersSent, reminderFailures)
	})
}

func AddSlotsCreated(n int) {
	slotsCreated.Add(float64(n))
}

func IncSlotBooked(actor string) {
	slotsBooked.WithLabelValues(actor).Inc()
}

func IncSlotCancelled(actor string) {
	slotsCancelled.WithLabelValues(actor).Inc()
}

func AddSlotsSwept(n int) {
	slotsSwept.Add(float64(n))
}

func IncReminderSent(kind string) {
	remindersSent.WithLabelValues(kind).Inc()
}

func IncReminderFailure() {
	reminderFailures.Inc()
}
