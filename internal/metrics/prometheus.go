package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepcheck_analyses_total",
		Help: "Total number of analyses finished, by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deepcheck_stage_duration_seconds",
		Help:    "Duration of analysis pipeline stages",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcheck_frames_extracted_total",
		Help: "Total number of frames extracted across all analyses",
	})

	FrameCaptureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepcheck_frame_capture_failures_total",
		Help: "Total number of frame captures that failed and were skipped",
	})

	OracleRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepcheck_oracle_requests_total",
		Help: "Total number of classification requests sent to the vision model, by result",
	}, []string{"result"})

	OracleRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepcheck_oracle_request_duration_seconds",
		Help:    "Latency of classification requests to the vision model",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	})

	QueueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepcheck_queue_messages_total",
		Help: "Total number of analysis requests consumed from the queue, by result",
	}, []string{"result"})

	ActiveAnalyses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepcheck_active_analyses",
		Help: "Number of analyses currently running",
	})
)
