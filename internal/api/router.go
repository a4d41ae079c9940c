package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/barnhand/corral/internal/api/handlers"
	"github.com/barnhand/corral/internal/api/ws"
	"github.com/barnhand/corral/internal/auth"
	"github.com/barnhand/corral/internal/queue"
	"github.com/barnhand/corral/internal/registry"
	"github.com/barnhand/corral/internal/reprocess"
	"github.com/barnhand/corral/internal/scheduler"
	"github.com/barnhand/corral/internal/vision"
)

// RouterConfig wires the §6 external interface surface: chunk submit/
// reprocess/status, snapshot detection, the barn horse roster, and system
// endpoints, fronted by gin exactly as the teacher's router does.
type RouterConfig struct {
	APIKey    string
	Registry  *registry.Registry
	Producer  *queue.Producer
	Scheduler *scheduler.Scheduler
	Reprocessor *reprocess.Reprocessor
	Detector  vision.DetectorCapability
	SnapshotThreshold float64
	Hub       *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Registry, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket — live chunk progress for operators watching a chunk/stream.
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Chunk processing & correction-driven reprocessing (§4.8, §4.7, §6).
	chunkH := handlers.NewChunkHandler(cfg.Scheduler, cfg.Reprocessor)
	v1.POST("/chunks", chunkH.Submit)
	v1.GET("/chunks/:chunk_id/status", chunkH.Status)
	v1.POST("/chunks/:chunk_id/reprocess", chunkH.Reprocess)

	// Snapshot-only detection (§6, §13).
	snapH := handlers.NewSnapshotHandler(cfg.Detector, cfg.SnapshotThreshold)
	v1.POST("/snapshot", snapH.Detect)

	// Barn horse roster (§13).
	barnH := handlers.NewBarnHandler(cfg.Registry.Warm)
	v1.GET("/barns/:barn_id/horses", barnH.Horses)

	return r
}
