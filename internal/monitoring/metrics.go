package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/slotline/slotline/internal/coordinator"
)

var (
	onlineSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotline_online_sessions",
			Help: "Current number of online sessions",
		},
	)

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slotline_queue_length",
			Help: "Current waiting queue length per event",
		},
		[]string{"event_id"},
	)

	availableSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slotline_available_slots",
			Help: "Current available slots per event",
		},
		[]string{"event_id"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slotline_active_sessions",
			Help: "Sessions currently selecting or awaiting confirmation",
		},
	)

	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotline_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotline_confirmations_total",
			Help: "Confirmation attempts by outcome",
		},
		[]string{"outcome"},
	)

	windowExpiries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slotline_window_expiries_total",
			Help: "Expired windows by phase",
		},
		[]string{"phase"},
	)
)

// Collector feeds coordination state into Prometheus. It implements both
// coordinator.SnapshotSink (gauges) and coordinator.Metrics (counters).
type Collector struct{}

// NewCollector returns the metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// PublishSnapshot implements coordinator.SnapshotSink.
func (c *Collector) PublishSnapshot(snap coordinator.Snapshot) {
	onlineSessions.Set(float64(snap.OnlineUsers))
	activeSessions.Set(float64(len(snap.ActiveUsers)))
	for _, ev := range snap.Events {
		availableSlots.WithLabelValues(ev.ID).Set(float64(ev.AvailableSlots))
		queueLength.WithLabelValues(ev.ID).Set(float64(len(snap.Queues[ev.ID])))
	}
}

// ReservationDecided implements coordinator.Metrics.
func (c *Collector) ReservationDecided(accepted bool) {
	reservations.WithLabelValues(outcome(accepted)).Inc()
}

// ConfirmationDecided implements coordinator.Metrics.
func (c *Collector) ConfirmationDecided(accepted bool) {
	confirmations.WithLabelValues(outcome(accepted)).Inc()
}

// WindowExpired implements coordinator.Metrics.
func (c *Collector) WindowExpired(phase coordinator.Phase) {
	windowExpiries.WithLabelValues(string(phase)).Inc()
}

func outcome(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}
