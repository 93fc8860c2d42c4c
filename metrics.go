package swcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routerResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_router_responses_total",
			Help: "Responses sent by the router, by route and source",
		},
		[]string{"route", "source"},
	)

	prefetchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_prefetch_items_total",
			Help: "Prefetched entries, by phase and result",
		},
		[]string{"phase", "result"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_cache_errors_total",
			Help: "Cache provider errors, by operation",
		},
		[]string{"operation"},
	)

	generationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swcache_generations_deleted_total",
			Help: "Stale cache generations deleted on activation",
		},
	)
)
