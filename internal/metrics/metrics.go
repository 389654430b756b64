package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mrtbot"

var (
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captcha_challenges_issued_total",
		Help:      "Captcha images captured from the arrival portal.",
	})
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captcha_verifications_total",
		Help:      "Captcha code submissions by result (accepted, rejected, stale).",
	}, []string{"result"})
	ReportsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arrival_reports_total",
		Help:      "Arrival reports delivered to chats by kind (query, refresh).",
	}, []string{"kind"})
	SessionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "portal_session_faults_total",
		Help:      "Failures talking to the arrival portal by operation.",
	}, []string{"op"})
	PortalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "portal_operation_duration_seconds",
		Help:      "Time spent in portal operations, including waiting for the session lock.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})
	TrackedChats = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chats_tracked",
		Help:      "Chats with conversation state held in memory.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
