package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "frames_processed_total",
		Help:      "Total number of chunk frames processed",
	}, []string{"stream_id"})

	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "frames_skipped_total",
		Help:      "Total number of chunk frames skipped by the frame_interval stride",
	}, []string{"stream_id"})

	HorsesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "horses_detected_total",
		Help:      "Total number of horse detections before association",
	}, []string{"stream_id"})

	TracksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "tracks_created_total",
		Help:      "Total number of new tracks minted by the tracker",
	}, []string{"stream_id"})

	TracksRevived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "tracks_revived_total",
		Help:      "Total number of lost tracks revived within the revive window",
	}, []string{"stream_id"})

	TracksArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "tracks_archived_total",
		Help:      "Total number of tracks archived after exceeding archive_after_s",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corral",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages (detect, keypoint, embed)",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	RegistryOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corral",
		Name:      "registry_op_duration_seconds",
		Help:      "Duration of hot/warm registry operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"tier", "op"})

	RegistryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "registry_errors_total",
		Help:      "Total number of hot/warm registry operation failures (§7 RegistryUnavailable)",
	}, []string{"tier"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "corral",
		Name:      "queue_depth",
		Help:      "Number of pending chunk jobs in the CHUNKS work queue",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "corral",
		Name:      "active_jobs",
		Help:      "Number of chunk jobs currently holding a scheduler worker slot",
	})

	ReprocessingsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "corral",
		Name:      "reprocessings_completed_total",
		Help:      "Total number of completed correction-driven reprocessing runs",
	}, []string{"barn_id"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "corral",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "corral",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
