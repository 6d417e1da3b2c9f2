package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealgraph_sync_duration_seconds",
			Help:    "Graph sync duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"workspace"},
	)

	DriftCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealgraph_drift_created_total",
			Help: "Drift items created, by severity",
		},
		[]string{"severity"},
	)

	DriftResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealgraph_drift_resolved_total",
			Help: "Drift items resolved, by resolution",
		},
		[]string{"resolution"},
	)

	IntegrityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealgraph_integrity_score",
			Help: "Latest integrity score per workspace",
		},
		[]string{"workspace"},
	)

	PublishGateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealgraph_publish_gate_decisions_total",
			Help: "Publish gate evaluations, by outcome",
		},
		[]string{"outcome"},
	)

	ReconItemsDecided = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealgraph_recon_items_decided_total",
			Help: "Reconciliation items decided, by decision",
		},
		[]string{"decision"},
	)

	ExportsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealgraph_exports_rendered_total",
			Help: "Golden record exports rendered, by format",
		},
		[]string{"format"},
	)
)

func Init() {
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(DriftCreated)
	prometheus.MustRegister(DriftResolved)
	prometheus.MustRegister(IntegrityScore)
	prometheus.MustRegister(PublishGateDecisions)
	prometheus.MustRegister(ReconItemsDecided)
	prometheus.MustRegister(ExportsRendered)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
