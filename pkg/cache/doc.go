// Package cache provides a generic, thread-safe LRU cache with always-on
// statistics and optional Prometheus metrics.
//
//	c, err := cache.NewLRU[*regexp.Regexp](256,
//	    cache.WithMetrics[*regexp.Regexp](registry, "pattern_cache"),
//	)
//	if re, ok := c.Get(pattern); ok {
//	    ...
//	}
//
// Eviction callbacks run outside the cache lock.
package cache
