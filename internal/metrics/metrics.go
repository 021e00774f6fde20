package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Push channel metrics
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Total push channel reconnect attempts",
		},
	)

	AuthRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_auth_rejections_total",
			Help: "Total mid-session authentication rejections",
		},
	)

	// Store metrics
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_merges_total",
			Help: "Total store merges",
		},
		[]string{"result"}, // "inserted", "updated", "unchanged"
	)

	// Outbound metrics
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total outbound sends",
		},
		[]string{"outcome"}, // "acked", "rolled_back"
	)

	DurabilityWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_durability_writes_total",
			Help: "Total best-effort durability writes",
		},
		[]string{"outcome"}, // "ok", "failed"
	)

	// Seen tracking metrics
	SeenAcks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_seen_acks_total",
			Help: "Total seen acknowledgements emitted",
		},
	)

	// History metrics
	HistoryFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_fetches_total",
			Help: "Total history fetches",
		},
		[]string{"outcome"}, // "ok", "failed"
	)
)
