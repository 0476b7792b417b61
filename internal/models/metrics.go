package models

import "time"

// SystemMetrics is the aggregated snapshot served to the admin dashboard.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	BatchesFormed            uint64    `json:"batches_formed"`
	OffersAccepted           uint64    `json:"offers_accepted"`
	OffersRejected           uint64    `json:"offers_rejected"`
	QuotaDenials             uint64    `json:"quota_denials"`
	ContactReveals           uint64    `json:"contact_reveals"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
