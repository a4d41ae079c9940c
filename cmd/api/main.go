package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/barnhand/corral/internal/api"
	"github.com/barnhand/corral/internal/api/ws"
	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
	"github.com/barnhand/corral/internal/queue"
	"github.com/barnhand/corral/internal/registry"
	"github.com/barnhand/corral/internal/reprocess"
	"github.com/barnhand/corral/internal/scheduler"
	"github.com/barnhand/corral/internal/vision"
	"github.com/barnhand/corral/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting corral API service", "port", cfg.Server.Port)

	hot := registry.NewHot(cfg.Redis, cfg.Registry.HotTTLS)
	defer hot.Close()

	warm, err := registry.NewWarm(cfg.Database)
	if err != nil {
		slog.Error("connect warm registry (postgres)", "error", err)
		os.Exit(1)
	}
	defer warm.Close()

	reg := registry.New(hot, warm, cfg.Registry)
	defer reg.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create progress consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sched := scheduler.New(producer, consumer, cfg.Job)

	hub := ws.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeProgress(ctx, "api-progress", func(ctx context.Context, msg jetstream.Msg) error {
		var status models.JobStatus
		if err := json.Unmarshal(msg.Data(), &status); err != nil {
			return err
		}

		evtType := "chunk_progress"
		switch status.Status {
		case models.JobCompleted:
			evtType = "chunk_completed"
		case models.JobFailed:
			evtType = "chunk_failed"
		}

		hub.BroadcastProgress(dto.WSProgressEvent{
			Type:     evtType,
			ChunkID:  status.ChunkID,
			Status:   string(status.Status),
			Progress: status.Progress,
			Step:     status.Step,
			Error:    status.Error,
		})

		return nil
	})
	if err != nil {
		slog.Warn("start progress consumer", "error", err)
	}

	// Initialize ONNX Runtime. The API owns its own capability set — the
	// snapshot-detect endpoint needs a detector, and the reprocess endpoint
	// (run synchronously in-process, §4.7) needs an embedder to re-extract
	// features for corrected tracks.
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	caps, err := vision.NewCapabilities(cfg.Vision)
	if err != nil {
		slog.Error("init vision capabilities", "error", err)
		os.Exit(1)
	}
	defer caps.Close()

	reprocessor := reprocess.New(cfg.Storage, reg, caps.Embedder)

	router := api.NewRouter(api.RouterConfig{
		APIKey:            cfg.Server.APIKey,
		Registry:          reg,
		Producer:          producer,
		Scheduler:         sched,
		Reprocessor:       reprocessor,
		Detector:          caps.Detector,
		SnapshotThreshold: cfg.Vision.SnapshotThreshold,
		Hub:               hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
