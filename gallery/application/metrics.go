package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photofeed_view_events_total",
		Help: "View events emitted by the synchronizer, by type.",
	}, []string{"type"})

	malformedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photofeed_malformed_records_total",
		Help: "Records skipped because they could not yield an image key.",
	})

	ownerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photofeed_owner_cache_hits_total",
		Help: "Owner profile resolutions served from the cache.",
	})

	ownerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photofeed_owner_cache_misses_total",
		Help: "Owner profile resolutions that required a fetch.",
	})

	lateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photofeed_late_events_dropped_total",
		Help: "ViewAdded events suppressed because their feed was torn down.",
	})

	feedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photofeed_feed_errors_total",
		Help: "Feed subscriptions ended by an error, by visibility.",
	}, []string{"feed"})
)
