package vision

import (
	"fmt"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/barnhand/corral/internal/config"
)

// Model filenames expected under cfg.ModelsDir for the "local" backend.
// Mirrors the teacher's fixed det_10g.onnx/w600k_r50.onnx naming convention
// under its own models_dir, generalized to the three horse-domain heads.
const (
	detectorModelFile = "detector.onnx"
	keypointModelFile = "keypoints.onnx"
	embedderModelFile = "embedder.onnx"
)

// Capabilities bundles the three capability-set instances a worker needs.
// Close releases all three underlying sessions/connections.
type Capabilities struct {
	Detector  DetectorCapability
	Keypoints KeypointCapability
	Embedder  EmbedderCapability
}

// Close releases whichever of the three capabilities were constructed.
func (c Capabilities) Close() error {
	var first error
	for _, closer := range []interface{ Close() error }{c.Detector, c.Keypoints, c.Embedder} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewCapabilities resolves cfg.Backend ("local" | "remote" | "mock") into a
// concrete Capabilities set (§9 Design Notes). "local" loads ONNX sessions
// from cfg.ModelsDir with thread caps from cfg.IntraOpThreads/InterOpThreads,
// giving each of the three sessions its own *ort.SessionOptions, built by
// newSessionOptions and destroyed once that session has been created.
// "remote" dials cfg.RemoteURL. "mock" needs no cfg at all and is normally
// selected for tests and local development without model files on disk.
func NewCapabilities(cfg config.VisionConfig) (Capabilities, error) {
	switch cfg.Backend {
	case "", "local":
		return newLocalCapabilities(cfg)
	case "remote":
		return newRemoteCapabilities(cfg), nil
	case "mock":
		return newMockCapabilities(), nil
	default:
		return Capabilities{}, fmt.Errorf("vision: unknown backend %q", cfg.Backend)
	}
}

// newSessionOptions returns a fresh *ort.SessionOptions capped to cfg's
// thread limits. Mirrors the teacher's per-model newSessionOptions closure
// in the now-deleted vision.Pipeline constructor: one options object per
// session, destroyed by the caller right after the session is built.
func newSessionOptions(cfg config.VisionConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set intra_op_threads: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set inter_op_threads: %w", err)
		}
	}
	return opts, nil
}

func newLocalCapabilities(cfg config.VisionConfig) (Capabilities, error) {
	detOpts, err := newSessionOptions(cfg)
	if err != nil {
		return Capabilities{}, err
	}
	detector, err := NewDetector(filepath.Join(cfg.ModelsDir, detectorModelFile), detOpts)
	detOpts.Destroy()
	if err != nil {
		return Capabilities{}, fmt.Errorf("vision: load detector: %w", err)
	}

	kpOpts, err := newSessionOptions(cfg)
	if err != nil {
		detector.Close()
		return Capabilities{}, err
	}
	keypoints, err := NewKeypointEstimator(filepath.Join(cfg.ModelsDir, keypointModelFile), kpOpts)
	kpOpts.Destroy()
	if err != nil {
		detector.Close()
		return Capabilities{}, fmt.Errorf("vision: load keypoint estimator: %w", err)
	}

	embOpts, err := newSessionOptions(cfg)
	if err != nil {
		detector.Close()
		keypoints.Close()
		return Capabilities{}, err
	}
	embedder, err := NewEmbedder(filepath.Join(cfg.ModelsDir, embedderModelFile), embOpts)
	embOpts.Destroy()
	if err != nil {
		detector.Close()
		keypoints.Close()
		return Capabilities{}, fmt.Errorf("vision: load embedder: %w", err)
	}

	return Capabilities{Detector: detector, Keypoints: keypoints, Embedder: embedder}, nil
}

func newRemoteCapabilities(cfg config.VisionConfig) Capabilities {
	return Capabilities{
		Detector:  NewRemoteDetector(cfg.RemoteURL),
		Keypoints: NewRemoteKeypointEstimator(cfg.RemoteURL),
		Embedder:  NewRemoteEmbedder(cfg.RemoteURL, cfg.EmbeddingDim),
	}
}

func newMockCapabilities() Capabilities {
	return Capabilities{
		Detector:  &MockDetector{},
		Keypoints: &MockKeypointEstimator{},
		Embedder:  NewMockEmbedder(0),
	}
}
