package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the sync engine. Registered on the default registry and
// served by the local API's /metrics endpoint.

var (
	BusDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxsync_bus_events_delivered_total",
		Help: "Push events delivered to subscribers, by event type.",
	}, []string{"type"})

	BusDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxsync_bus_events_deduped_total",
		Help: "Push events suppressed as duplicates by event id.",
	})

	BusMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxsync_bus_events_malformed_total",
		Help: "Push events dropped because their payload did not decode.",
	})

	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxsync_bus_events_dropped_total",
		Help: "Push events dropped because the dispatch queue was full.",
	})

	SendOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxsync_send_outcomes_total",
		Help: "Send pipeline part outcomes (sent, failed, rejected).",
	}, []string{"outcome"})

	MergeDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxsync_store_merge_deduped_total",
		Help: "Remote merges ignored because the server id already existed.",
	})

	Conversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inboxsync_store_conversations",
		Help: "Conversations currently held in the store.",
	})

	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxsync_refresh_runs_total",
		Help: "Background re-fetch runs, by trigger (cron, resync, manual).",
	}, []string{"trigger"})
)
