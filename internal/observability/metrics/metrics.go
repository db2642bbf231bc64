package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "platform_"

	resultSuccess  = "success"
	resultRejected = "rejected"
	resultConflict = "conflict"
	resultError    = "error"
	resultReplay   = "replay"
)

var (
	registerOnce sync.Once

	shiftOpenTotal   *prometheus.CounterVec
	shiftOpenLatency *prometheus.HistogramVec

	shiftCloseTotal   *prometheus.CounterVec
	shiftCloseLatency *prometheus.HistogramVec

	shiftConflictsTotal        *prometheus.CounterVec
	shiftAlertsTotal           *prometheus.CounterVec
	justificationRequiredTotal prometheus.Counter

	deliveriesTotal *prometheus.CounterVec

	staleOpenShifts prometheus.Gauge
)

// Init registers shift metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		shiftOpenTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_open_total",
				Help: "Total shift open operations by result",
			},
			[]string{"result"},
		)
		shiftOpenLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "shift_open_latency_seconds",
				Help:    "Shift open latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		shiftCloseTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_close_total",
				Help: "Total shift close operations by result",
			},
			[]string{"result"},
		)
		shiftCloseLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "shift_close_latency_seconds",
				Help:    "Shift close latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		shiftConflictsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_conflicts_total",
				Help: "Total concurrency conflicts by reason",
			},
			[]string{"reason"},
		)
		shiftAlertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_alerts_total",
				Help: "Total variance alerts by breached threshold",
			},
			[]string{"kind"},
		)
		justificationRequiredTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "shift_justification_required_total",
				Help: "Total closes rejected for a missing justification",
			},
		)
		deliveriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tank_deliveries_total",
				Help: "Total tank deliveries by result",
			},
			[]string{"result"},
		)
		staleOpenShifts = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "shift_stale_open",
				Help: "Open shifts older than the watchdog limit",
			},
		)

		prometheus.MustRegister(
			shiftOpenTotal,
			shiftOpenLatency,
			shiftCloseTotal,
			shiftCloseLatency,
			shiftConflictsTotal,
			shiftAlertsTotal,
			justificationRequiredTotal,
			deliveriesTotal,
			staleOpenShifts,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveShiftOpen records open latency and result.
func ObserveShiftOpen(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if shiftOpenTotal != nil {
		shiftOpenTotal.WithLabelValues(result).Inc()
	}
	if shiftOpenLatency != nil {
		shiftOpenLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveShiftClose records close latency and result.
func ObserveShiftClose(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if shiftCloseTotal != nil {
		shiftCloseTotal.WithLabelValues(result).Inc()
	}
	if shiftCloseLatency != nil {
		shiftCloseLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncConflict counts a lost optimistic or serialization race.
func IncConflict(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if shiftConflictsTotal != nil {
		shiftConflictsTotal.WithLabelValues(reason).Inc()
	}
}

// IncAlert counts a variance alert by breached threshold ("cash", "stock").
func IncAlert(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if shiftAlertsTotal != nil {
		shiftAlertsTotal.WithLabelValues(kind).Inc()
	}
}

// IncJustificationRequired counts a close rejected for a missing justification.
func IncJustificationRequired() {
	if justificationRequiredTotal != nil {
		justificationRequiredTotal.Inc()
	}
}

// IncDelivery counts a delivery by result.
func IncDelivery(result string) {
	if result == "" {
		result = resultSuccess
	}
	if deliveriesTotal != nil {
		deliveriesTotal.WithLabelValues(result).Inc()
	}
}

// SetStaleOpenShifts publishes the watchdog count.
func SetStaleOpenShifts(count int) {
	if count < 0 {
		count = 0
	}
	if staleOpenShifts != nil {
		staleOpenShifts.Set(float64(count))
	}
}

// Result labels for callers.
const (
	ResultSuccess  = resultSuccess
	ResultRejected = resultRejected
	ResultConflict = resultConflict
	ResultError    = resultError
	ResultReplay   = resultReplay
)
