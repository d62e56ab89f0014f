/*
Package monitoring provides Prometheus-based metrics for the gateway.

# Overview

Tracks intercepted HTTP traffic per caching strategy, asset cache
effectiveness (hits, misses, refused stores, generation size), the offline
image queue, and the update/activation protocol.

# Usage

Collectors register in the global Prometheus registry, so the process shares
one instance:

	metrics := monitoring.Default()
	router.Use(monitoring.Middleware(metrics))

	metrics.RecordCacheHit("cache-first")
	metrics.QueueDepth.Set(float64(pending))

Metrics are exposed on the standard endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
