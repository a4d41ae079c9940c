package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// RemoteDetector, RemoteKeypointEstimator and RemoteEmbedder delegate
// inference to an HTTP sidecar (config.VisionConfig.RemoteURL), the
// "remote" capability-set variant of §9 Design Notes — useful when models
// run on GPU hardware separate from the chunk worker process. Plain
// net/http + encoding/json is used rather than a third-party HTTP client:
// this is a single internal JSON-over-HTTP call per frame/crop with no
// retry/circuit-breaking requirement beyond the job-level timeout already
// enforced by the scheduler, so no example repo's heavier HTTP client
// stack (gin is a server framework, not applicable here) is a better fit.
type remoteClient struct {
	baseURL string
	http    *http.Client
}

func newRemoteClient(baseURL string) *remoteClient {
	return &remoteClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *remoteClient) postJPEG(ctx context.Context, path string, img gocv.Mat, extra map[string]any, out any) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	body := new(bytes.Buffer)
	body.Write(buf.GetBytes())

	url := c.baseURL + path
	if len(extra) > 0 {
		q := "?"
		for k, v := range extra {
			q += fmt.Sprintf("%s=%v&", k, v)
		}
		url += q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote inference returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type RemoteDetector struct{ client *remoteClient }

func NewRemoteDetector(baseURL string) *RemoteDetector {
	return &RemoteDetector{client: newRemoteClient(baseURL)}
}

func (r *RemoteDetector) Detect(ctx context.Context, img gocv.Mat, threshold float32) ([]models.Detection, error) {
	var out struct {
		Detections []models.Detection `json:"detections"`
	}
	if err := r.client.postJPEG(ctx, "/v1/detect", img, map[string]any{"threshold": threshold}, &out); err != nil {
		return nil, err
	}
	return out.Detections, nil
}

func (r *RemoteDetector) Close() error { return nil }

type RemoteKeypointEstimator struct{ client *remoteClient }

func NewRemoteKeypointEstimator(baseURL string) *RemoteKeypointEstimator {
	return &RemoteKeypointEstimator{client: newRemoteClient(baseURL)}
}

func (r *RemoteKeypointEstimator) Estimate(ctx context.Context, crop gocv.Mat) (*models.Keypoints, error) {
	var out struct {
		Keypoints models.Keypoints `json:"keypoints"`
	}
	if err := r.client.postJPEG(ctx, "/v1/keypoints", crop, nil, &out); err != nil {
		return nil, err
	}
	return &out.Keypoints, nil
}

func (r *RemoteKeypointEstimator) Close() error { return nil }

type RemoteEmbedder struct {
	client *remoteClient
	dim    int
}

func NewRemoteEmbedder(baseURL string, dim int) *RemoteEmbedder {
	return &RemoteEmbedder{client: newRemoteClient(baseURL), dim: dim}
}

func (r *RemoteEmbedder) Extract(ctx context.Context, crop gocv.Mat) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := r.client.postJPEG(ctx, "/v1/embed", crop, nil, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

func (r *RemoteEmbedder) Dim() int { return r.dim }

func (r *RemoteEmbedder) Close() error { return nil }
