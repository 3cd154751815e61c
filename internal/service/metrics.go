package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_sweeps_total",
			Help: "Completed evaluation sweeps by type and outcome",
		},
		[]string{"sweep", "outcome"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coinwatch_sweep_duration_seconds",
			Help:    "Wall time of one evaluation sweep",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	entityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_entity_errors_total",
			Help: "Per-entity evaluation failures by reason",
		},
		[]string{"sweep", "reason"},
	)

	alertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_alerts_delivered_total",
			Help: "Alerts delivered through the outbox by trigger kind",
		},
		[]string{"kind"},
	)

	gateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinwatch_gate_rejections_total",
			Help: "Candidates rejected by the rate-limit/dedup gate",
		},
		[]string{"guard"},
	)

	activeHotWatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinwatch_active_hotwatches",
			Help: "Hot-watch entries still armed",
		},
	)
)
