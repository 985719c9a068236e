// Package analytics aggregates search activity in process: volume, cache
// efficiency, latency percentiles, and the most frequent queries including
// those that matched nothing.
package analytics

import "time"

type SearchEvent struct {
	Query     string    `json:"query"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}
