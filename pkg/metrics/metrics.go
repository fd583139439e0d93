// Package metrics provides Prometheus metrics for panel backup operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	// JobCount tracks the total number of backup jobs run
	JobCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backup_jobs_total",
		Help: "The total number of backup jobs run",
	}, []string{"panel", "database", "trigger", "status"})

	// JobDuration measures end-to-end job duration
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panel_backup_job_duration_seconds",
		Help:    "End-to-end backup job duration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"panel", "database"})

	// ArtifactSize tracks size of the delivered artifact in bytes
	ArtifactSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panel_backup_artifact_bytes",
		Help: "Size of the last delivered backup artifact in bytes",
	}, []string{"panel", "database"})

	// DeliveryCount tracks delivery attempts by channel and outcome
	DeliveryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backup_delivery_total",
		Help: "The total number of artifact deliveries attempted",
	}, []string{"channel", "status"})

	// DeliveryDuration measures time spent streaming an artifact to the channel
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panel_backup_delivery_duration_seconds",
		Help:    "Time taken to deliver an artifact",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"channel"})

	// CleanupFailures counts best-effort remote cleanup failures
	CleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backup_cleanup_failures_total",
		Help: "The total number of remote cleanup failures (logged, never fatal)",
	}, []string{"panel"})

	// LastSuccessTimestamp records timestamp of the last successful job
	LastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "panel_backup_last_success_timestamp",
		Help: "Timestamp of the last successful backup job",
	}, []string{"panel", "database"})

	// MissedTicks counts scheduler ticks skipped because a job was still active
	MissedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backup_scheduler_missed_ticks_total",
		Help: "Due ticks skipped because a job for the pair was still active",
	}, []string{"panel", "database"})

	// ScheduledRules tracks the number of enabled schedule rules
	ScheduledRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panel_backup_scheduler_rules",
		Help: "Number of enabled schedule rules",
	})
)
