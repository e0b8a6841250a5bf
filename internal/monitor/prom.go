package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "serving",
			Name:      "predictions_total",
			Help:      "Total predictions by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "serving",
			Name:      "cache_hits_total",
			Help:      "Predictions served from the cache",
		},
		[]string{"model"},
	)

	driftScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "serving",
			Name:      "drift_score",
			Help:      "Latest input drift score per model",
		},
		[]string{"model"},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "serving",
			Name:      "active_alerts",
			Help:      "Currently unresolved alerts",
		},
	)
)

func init() {
	prometheus.MustRegister(predictionsTotal, cacheHitsTotal, driftScore, activeAlerts)
}
