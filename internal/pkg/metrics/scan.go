package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScanMetrics tracks the scan engine. A nil *ScanMetrics is a valid no-op.
type ScanMetrics struct {
	sessionsPrepared *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	pointsPosted     *prometheus.CounterVec
	consumeRaces     prometheus.Counter
	sessionsSwept    prometheus.Counter
}

var (
	scanOnce     sync.Once
	scanRegistry *ScanMetrics
)

// Scan returns the process-wide scan metrics, registering them on first use.
func Scan() *ScanMetrics {
	scanOnce.Do(func() {
		scanRegistry = &ScanMetrics{
			sessionsPrepared: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "scan_sessions_prepared_total",
				Help: "Scan sessions prepared by mode.",
			}, []string{"mode"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "scan_session_outcomes_total",
				Help: "Terminal scan session transitions by mode and outcome.",
			}, []string{"mode", "outcome"}),
			pointsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_points_posted_total",
				Help: "Absolute points posted to the ledger by transaction type.",
			}, []string{"type"}),
			consumeRaces: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "scan_token_consume_races_total",
				Help: "Confirmation attempts that lost the token consumption race.",
			}),
			sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "scan_sessions_swept_total",
				Help: "Stale pending sessions expired by the sweeper.",
			}),
		}
		prometheus.MustRegister(
			scanRegistry.sessionsPrepared,
			scanRegistry.outcomes,
			scanRegistry.pointsPosted,
			scanRegistry.consumeRaces,
			scanRegistry.sessionsSwept,
		)
	})
	return scanRegistry
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *ScanMetrics) ObservePrepared(mode string) {
	if m == nil {
		return
	}
	m.sessionsPrepared.WithLabelValues(mode).Inc()
}

func (m *ScanMetrics) ObserveOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.outcomes.WithLabelValues(mode, outcome).Inc()
}

func (m *ScanMetrics) ObservePoints(txType string, delta int64) {
	if m == nil {
		return
	}
	if delta < 0 {
		delta = -delta
	}
	m.pointsPosted.WithLabelValues(txType).Add(float64(delta))
}

func (m *ScanMetrics) ObserveConsumeRace() {
	if m == nil {
		return
	}
	m.consumeRaces.Inc()
}

func (m *ScanMetrics) ObserveSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}
