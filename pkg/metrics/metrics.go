// Package metrics 定义推荐链路的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "matchkit"

var (
	RecallCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_candidates",
			Help:      "Number of candidates returned per recall channel",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		},
		[]string{"channel"},
	)

	RecallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_errors_total",
			Help:      "Recall channel failures degraded to empty results",
		},
		[]string{"channel"},
	)

	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_node_duration_seconds",
			Help:      "Pipeline node processing time",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"node", "kind"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs handled by kind and outcome",
		},
		[]string{"kind", "outcome"}, // completed / failed / dead_letter
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handling time including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs published to the queue",
		},
		[]string{"kind"},
	)

	ReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasons_total",
			Help:      "Generated reasons by source",
		},
		[]string{"source"}, // llm / fallback
	)

	FlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_flush_total",
			Help:      "Buffer flush attempts by outcome",
		},
		[]string{"outcome"}, // ok / requeued / skipped
	)

	FlushedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_flushed_records_total",
			Help:      "Records written by the batch flusher",
		},
	)

	DroppedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_dropped_records_total",
			Help:      "Undecodable buffer entries discarded by the flusher",
		},
	)

	BufferDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_buffer_depth",
			Help:      "Pending records in the persist buffer after the last flush",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecallCandidates,
		RecallErrorsTotal,
		NodeDuration,
		JobsTotal,
		JobDuration,
		JobsEnqueuedTotal,
		ReasonsTotal,
		FlushTotal,
		FlushedRecords,
		DroppedRecords,
		BufferDepth,
	)
}
