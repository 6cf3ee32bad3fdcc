// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podmirror_downloads_total",
		Help: "Completed pipeline runs by result",
	}, []string{"result"}) // result=completed|failed|cancelled

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "podmirror_download_duration_seconds",
		Help:    "Wall time of one pipeline run (fetch + transcode + finalize)",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_download_bytes_total",
		Help: "Total artifact bytes produced",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podmirror_active_downloads",
		Help: "Pipeline runs currently holding a concurrency permit",
	})

	// Queue metrics
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "podmirror_queue_depth",
		Help: "Queue items by status (last poll)",
	}, []string{"status"})

	attemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podmirror_attempt_failures_total",
		Help: "Failed download attempts by error kind",
	}, []string{"kind"})

	// Refresh metrics
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podmirror_refresh_total",
		Help: "Channel refreshes by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	episodesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_episodes_discovered_total",
		Help: "New episodes admitted during refresh",
	})

	// Retention metrics
	retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_retention_deleted_total",
		Help: "Episodes deleted by retention",
	})

	retentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_retention_bytes_freed_total",
		Help: "Artifact bytes freed by retention",
	})

	// Feed metrics
	feedsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_feeds_written_total",
		Help: "Feed documents rendered and written",
	})

	feedWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podmirror_feed_write_errors_total",
		Help: "Feed write failures",
	})
)

func RecordDownload(result string, seconds float64, bytes int64) {
	downloadsTotal.WithLabelValues(result).Inc()
	downloadDuration.Observe(seconds)
	if bytes > 0 {
		downloadBytes.Add(float64(bytes))
	}
}

func IncActiveDownloads() { activeDownloads.Inc() }
func DecActiveDownloads() { activeDownloads.Dec() }

func RecordQueueDepth(status string, n int) {
	queueDepth.WithLabelValues(status).Set(float64(n))
}

func IncAttemptFailure(kind string) { attemptFailures.WithLabelValues(kind).Inc() }

func RecordRefresh(outcome string, discovered int) {
	refreshTotal.WithLabelValues(outcome).Inc()
	if discovered > 0 {
		episodesDiscovered.Add(float64(discovered))
	}
}

func RecordRetention(deleted int, bytesFreed int64) {
	retentionDeleted.Add(float64(deleted))
	retentionBytesFreed.Add(float64(bytesFreed))
}

func RecordFeedWrite(err error) {
	if err != nil {
		feedWriteErrors.Inc()
		return
	}
	feedsWritten.Inc()
}
