// Package scheduler dispatches chunk processing jobs onto a bounded
// worker pool and tracks their status (§4.8, §5, §6). Grounded on the
// teacher's cmd/worker main loop (NATS JetStream consumer driving a
// fixed-size ONNX inference pool) generalized with an explicit
// at-most-one-in-flight-per-chunk guard and a golang.org/x/sync semaphore
// in place of the teacher's bare goroutine-per-message fetch loop, since
// §5 requires bounded concurrency with an explicit capacity-exceeded
// error rather than unbounded fan-out.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/corralerr"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
	"github.com/barnhand/corral/internal/queue"
)

// Handler runs one chunk processing job and returns its persisted record.
type Handler func(ctx context.Context, req models.ProcessingRequest, progress chan<- int) (*models.ChunkRecord, error)

// Scheduler owns the submit -> queue -> bounded-worker -> status pipeline.
type Scheduler struct {
	producer *queue.Producer
	consumer *queue.Consumer
	cfg      config.JobConfig

	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]bool
	statuses map[string]*models.JobStatus
}

// New builds a Scheduler bound to cfg.WorkerCount concurrent chunk jobs.
func New(producer *queue.Producer, consumer *queue.Consumer, cfg config.JobConfig) *Scheduler {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		producer: producer,
		consumer: consumer,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(workers)),
		inFlight: make(map[string]bool),
		statuses: make(map[string]*models.JobStatus),
	}
}

// Submit enqueues a chunk processing job. It refuses a second submission
// for a chunk_id already in flight (§4.8 "at most one in-flight job per
// chunk_id") and refuses new work once the queue is at job.queue_capacity
// (§5, §6 capacity_exceeded -> exit code 5 mapping via corralerr).
func (s *Scheduler) Submit(ctx context.Context, req models.ProcessingRequest) (*models.JobStatus, error) {
	s.mu.Lock()
	if s.inFlight[req.ChunkID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: chunk %s", corralerr.ErrAlreadyInFlight, req.ChunkID)
	}
	s.mu.Unlock()

	depth, err := s.producer.QueueDepth(ctx)
	if err == nil {
		observability.QueueDepth.Set(float64(depth))
		if s.cfg.QueueCapacity > 0 && depth >= uint64(s.cfg.QueueCapacity) {
			return nil, fmt.Errorf("%w: queue depth %d >= capacity %d", corralerr.ErrCapacityExceeded, depth, s.cfg.QueueCapacity)
		}
	}

	status := &models.JobStatus{JobID: req.ChunkID, ChunkID: req.ChunkID, Status: models.JobPending, Step: "queued"}
	s.mu.Lock()
	s.inFlight[req.ChunkID] = true
	s.statuses[req.ChunkID] = status
	s.mu.Unlock()

	if err := s.producer.PublishChunk(ctx, req.ChunkID, req); err != nil {
		s.mu.Lock()
		delete(s.inFlight, req.ChunkID)
		delete(s.statuses, req.ChunkID)
		s.mu.Unlock()
		return nil, fmt.Errorf("submit chunk %s: %w", req.ChunkID, err)
	}
	return status, nil
}

// Status returns the last-known status for a chunk job, or ok=false if
// this scheduler instance has never seen it (status is process-local;
// callers needing durable status across worker restarts should persist
// terminal events themselves, §6 Open Question).
func (s *Scheduler) Status(chunkID string) (*models.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[chunkID]
	return st, ok
}

// Run starts the bounded worker pool consuming chunk jobs until ctx is
// cancelled (§4.8). Each job gets its own job.timeout_s deadline (§6).
// ConsumeChunks is given the same worker count as the semaphore in runJob,
// so both bound concurrency to job.worker_count.
func (s *Scheduler) Run(ctx context.Context, consumerName string, handler Handler) error {
	return s.consumer.ConsumeChunks(ctx, consumerName, func(ctx context.Context, msg jetstream.Msg) error {
		var req models.ProcessingRequest
		if err := json.Unmarshal(msg.Data(), &req); err != nil {
			return fmt.Errorf("unmarshal chunk job: %w", err)
		}
		return s.runJob(ctx, req, handler)
	}, s.effectiveWorkers())
}

func (s *Scheduler) effectiveWorkers() int {
	if s.cfg.WorkerCount <= 0 {
		return 1
	}
	return s.cfg.WorkerCount
}

// runJob executes one job under the semaphore, enforcing job.timeout_s,
// publishing progress events, and updating the in-process status map.
// A handler error that occurs after the job's own deadline has passed is
// wrapped in corralerr.ErrTimeout.
func (s *Scheduler) runJob(ctx context.Context, req models.ProcessingRequest, handler Handler) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", corralerr.ErrCapacityExceeded, err)
	}
	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()
	defer s.sem.Release(1)

	timeout := time.Duration(s.cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.setStatus(req.ChunkID, models.JobRunning, "processing", 0, "")

	progress := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for pct := range progress {
			s.setStatus(req.ChunkID, models.JobRunning, "processing", pct, "")
			_ = s.producer.PublishProgress(ctx, req.ChunkID, models.JobStatus{
				JobID: req.ChunkID, ChunkID: req.ChunkID, Status: models.JobRunning, Progress: pct, Step: "processing",
			})
		}
	}()

	_, err := handler(jobCtx, req, progress)
	close(progress)
	<-done
	if err != nil && jobCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", corralerr.ErrTimeout, err)
	}

	s.mu.Lock()
	delete(s.inFlight, req.ChunkID)
	s.mu.Unlock()

	if err != nil {
		s.setStatus(req.ChunkID, models.JobFailed, "failed", 100, err.Error())
		_ = s.producer.PublishProgress(ctx, req.ChunkID, models.JobStatus{
			JobID: req.ChunkID, ChunkID: req.ChunkID, Status: models.JobFailed, Progress: 100, Error: err.Error(),
		})
		return err
	}

	s.setStatus(req.ChunkID, models.JobCompleted, "done", 100, "")
	_ = s.producer.PublishProgress(ctx, req.ChunkID, models.JobStatus{
		JobID: req.ChunkID, ChunkID: req.ChunkID, Status: models.JobCompleted, Progress: 100, Step: "done",
	})
	return nil
}

func (s *Scheduler) setStatus(chunkID string, status models.JobStatusValue, step string, progress int, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[chunkID] = &models.JobStatus{
		JobID: chunkID, ChunkID: chunkID, Status: status, Progress: progress, Step: step, Error: errMsg,
	}
}
