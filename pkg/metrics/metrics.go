// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsIngestedTotal tracks reviews by ingest outcome
	ReviewsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "reviews_total",
			Help:      "Total number of reviews processed by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// BatchDuration tracks batch ingestion duration in seconds
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch ingestion in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tenant_id"},
	)

	// ProductGroupFailures tracks product groups that failed inside a batch
	ProductGroupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "product_group_failures_total",
			Help:      "Total number of product groups that failed during batch ingestion",
		},
		[]string{"tenant_id"},
	)

	// SeenSetLookups tracks dedup pre-filter lookups by result
	SeenSetLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "seen_set_lookups_total",
			Help:      "Total number of seen-set lookups by result",
		},
		[]string{"result"},
	)

	// LockAcquisitionsTotal tracks lock acquisition attempts by outcome
	LockAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "analysis",
			Name:      "lock_acquisitions_total",
			Help:      "Total number of analysis lock acquisition attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// LocksReclaimed tracks processing locks expired by the reclaimer
	LocksReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "analysis",
			Name:      "locks_reclaimed_total",
			Help:      "Total number of stuck processing locks reclaimed",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed by status
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// RedisOperationDuration tracks Redis operation duration
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"operation"},
	)
)

// RecordIngestOutcome records review counts for one ingest outcome
func RecordIngestOutcome(tenantID, outcome string, count int) {
	if count > 0 {
		ReviewsIngestedTotal.WithLabelValues(tenantID, outcome).Add(float64(count))
	}
}

// RecordBatch records a completed batch ingestion
func RecordBatch(tenantID string, durationSeconds float64) {
	BatchDuration.WithLabelValues(tenantID).Observe(durationSeconds)
}

// RecordLockAcquisition records an analysis lock acquisition attempt
func RecordLockAcquisition(kind, outcome string) {
	LockAcquisitionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
