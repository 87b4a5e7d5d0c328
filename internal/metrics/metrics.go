package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "topologyd"
)

var (
	// TopologiesReported counts topology reports by outcome
	TopologiesReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topologies_reported_total",
			Help:      "Total number of topology reports processed",
		},
		[]string{"outcome"}, // applied/duplicate/rejected
	)

	// CurrentEpoch tracks the highest epoch applied locally
	CurrentEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_epoch",
			Help:      "Highest epoch applied locally",
		},
	)

	// MinEpoch tracks the truncation floor
	MinEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_epoch",
			Help:      "Lowest retained epoch",
		},
	)

	// FetchAttempts counts remote topology fetch attempts by outcome
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of remote topology fetch attempts",
		},
		[]string{"outcome"}, // success/failure/superseded
	)

	// Truncations counts epoch history truncations
	Truncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncations_total",
			Help:      "Total number of epoch history truncations",
		},
	)

	// WatermarkMerges counts watermark snapshot merges that advanced state
	WatermarkMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watermark_merges_total",
			Help:      "Total number of watermark merges that advanced local state",
		},
	)

	// SyncNotifications counts outbound peer notifications by outcome
	SyncNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_notifications_total",
			Help:      "Total number of peer notifications sent",
		},
		[]string{"outcome"}, // acked/retried
	)

	// PendingNotifications tracks per-peer epoch ledger entries awaiting ack
	PendingNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_notifications",
			Help:      "Number of peer notifications still awaiting acknowledgement",
		},
	)

	// NodesRemoved counts nodes detected as removed from the topology
	NodesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_removed_total",
			Help:      "Total number of nodes detected as removed",
		},
	)
)
