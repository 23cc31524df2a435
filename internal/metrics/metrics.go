package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for the collectors below.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	StateFresh = "fresh"
	StateStale = "stale"

	ReasonDeleted = "deleted"
	ReasonInvalid = "invalid"
)

var (
	UpstreamFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupmecal_upstream_fetch_total",
			Help: "GroupMe event list fetches by result",
		},
		[]string{"result"},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupmecal_cache_requests_total",
			Help: "Feed requests by cache state at request time",
		},
		[]string{"state"},
	)

	EventsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groupmecal_events_skipped_total",
			Help: "Upstream events left out of the feed by reason",
		},
		[]string{"reason"},
	)

	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groupmecal_rebuild_duration_seconds",
			Help:    "Duration of fetch plus feed build",
			Buckets: prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			UpstreamFetchTotal,
			CacheRequestsTotal,
			EventsSkippedTotal,
			RebuildDuration,
		)
	})
}
