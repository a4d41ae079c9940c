package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	ChunksStreamName    = "CHUNKS"
	ChunksSubjectBase   = "chunks"
	ProgressStreamName  = "PROGRESS"
	ProgressSubjectBase = "progress"
)

// Producer publishes chunk processing jobs and progress events to NATS
// JetStream (§4.8, §11). Renamed from the teacher's FRAMES/EVENTS work
// queue to CHUNKS/PROGRESS: one job per chunk instead of one per frame,
// and progress events instead of per-face detection events, but the
// stream-config shape (work-queue retention for jobs, interest-policy
// retention for fan-out events) is kept identical.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        ChunksStreamName,
			Subjects:    []string{ChunksSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      2 * time.Hour,
			MaxMsgs:     100000,
			MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Chunk processing jobs for vision workers",
		},
		{
			Name:        ProgressStreamName,
			Subjects:    []string{ProgressSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Chunk job progress/terminal events",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishChunk enqueues a chunk processing job (§4.8, §6 ProcessingRequest).
func (p *Producer) PublishChunk(ctx context.Context, chunkID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal chunk job: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", ChunksSubjectBase, chunkID)
	_, err = p.js.Publish(ctx, subject, payload,
		jetstream.WithMsgID(chunkID))
	if err != nil {
		return fmt.Errorf("publish chunk job: %w", err)
	}
	return nil
}

// PublishProgress publishes a progress or terminal event for a chunk job
// (§4.8, relayed to WebSocket subscribers by the API's ws.Hub).
func (p *Producer) PublishProgress(ctx context.Context, chunkID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", ProgressSubjectBase, chunkID)
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the CHUNKS stream,
// used by the scheduler's capacity-exceeded backpressure check (§5, §6).
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ChunksStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
