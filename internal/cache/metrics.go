package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that returned a live record
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoxy_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"adapter"},
	)

	// CacheMisses tracks lookups that returned no live record
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoxy_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"adapter"},
	)

	// CacheEvictions tracks expired records removed on access
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoxy_cache_evictions_total",
			Help: "Total number of expired records removed on access",
		},
		[]string{"adapter"},
	)

	// CacheErrors tracks failed storage operations
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phoxy_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"adapter", "operation"}, // read, write, delete, clear
	)
)
