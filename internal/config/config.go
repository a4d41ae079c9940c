package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Storage  StorageConfig  `yaml:"storage"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Registry RegistryConfig `yaml:"registry"`
	Job      JobConfig      `yaml:"job"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig backs the hot tier of the identity registry (§4.3).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig is the filesystem layout the reprocessor walks (§4.7).
type StorageConfig struct {
	RawVideoRoot string `yaml:"raw_video_root"`
	OutputRoot   string `yaml:"output_root"`
	ModelsDir    string `yaml:"models_dir"`
}

type VisionConfig struct {
	ModelsDir           string  `yaml:"models_dir"`
	DetectionThreshold  float64 `yaml:"detection_threshold"`
	SnapshotThreshold   float64 `yaml:"snapshot_threshold"`
	KeypointThreshold   float64 `yaml:"keypoint_threshold"`
	AppearanceThreshold float64 `yaml:"appearance_threshold"`
	IntraOpThreads      int     `yaml:"intra_op_threads"`
	InterOpThreads      int     `yaml:"inter_op_threads"`
	MinHorseSize        int     `yaml:"min_horse_size"`
	EmbeddingDim        int     `yaml:"embedding_dim"`
	KeypointCount       int     `yaml:"keypoint_count"`
	Backend             string  `yaml:"backend"` // local | remote | mock
	RemoteURL           string  `yaml:"remote_url"`
}

// TrackingConfig holds the §4.2 association and lifecycle defaults.
type TrackingConfig struct {
	IoUGate                float64 `yaml:"iou_gate"`
	MaxLostFrames          int     `yaml:"max_lost_frames"`
	ReviveWindowS          int     `yaml:"revive_window_s"`
	MaxSpeedPxPerS         float64 `yaml:"max_speed_px_per_s"`
	ArchiveAfterS          int     `yaml:"archive_after_s"`
	EMAAlpha               float64 `yaml:"ema_alpha"`
	ReEmbedIntervalUpdates int     `yaml:"re_embed_interval_updates"`
}

// RegistryConfig governs the hot/warm identity store (§4.3).
type RegistryConfig struct {
	HotTTLS            int     `yaml:"hot_ttl_s"`
	WarmBlendWeight    float64 `yaml:"warm_blend_weight"`
	WarmBlendWeightOld float64 `yaml:"warm_blend_weight_old"`
}

// JobConfig governs the chunk worker pool and per-job timeout (§5).
type JobConfig struct {
	TimeoutS      int `yaml:"timeout_s"`
	QueueCapacity int `yaml:"queue_capacity"`
	WorkerCount   int `yaml:"worker_count"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Storage.RawVideoRoot == "" {
		cfg.Storage.RawVideoRoot = "/data/raw"
	}
	if cfg.Storage.OutputRoot == "" {
		cfg.Storage.OutputRoot = "/data/output"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = cfg.Storage.ModelsDir
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.SnapshotThreshold == 0 {
		cfg.Vision.SnapshotThreshold = 0.3
	}
	if cfg.Vision.KeypointThreshold == 0 {
		cfg.Vision.KeypointThreshold = 0.3
	}
	if cfg.Vision.AppearanceThreshold == 0 {
		cfg.Vision.AppearanceThreshold = 0.7
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 768
	}
	if cfg.Vision.KeypointCount == 0 {
		cfg.Vision.KeypointCount = 17
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = "local"
	}
	if cfg.Tracking.IoUGate == 0 {
		cfg.Tracking.IoUGate = 0.3
	}
	if cfg.Tracking.MaxLostFrames == 0 {
		cfg.Tracking.MaxLostFrames = 30
	}
	if cfg.Tracking.ReviveWindowS == 0 {
		cfg.Tracking.ReviveWindowS = 10
	}
	if cfg.Tracking.MaxSpeedPxPerS == 0 {
		cfg.Tracking.MaxSpeedPxPerS = 200
	}
	if cfg.Tracking.ArchiveAfterS == 0 {
		cfg.Tracking.ArchiveAfterS = 30
	}
	if cfg.Tracking.EMAAlpha == 0 {
		cfg.Tracking.EMAAlpha = 0.8
	}
	if cfg.Tracking.ReEmbedIntervalUpdates == 0 {
		cfg.Tracking.ReEmbedIntervalUpdates = 10
	}
	if cfg.Registry.HotTTLS == 0 {
		cfg.Registry.HotTTLS = 300
	}
	if cfg.Registry.WarmBlendWeight == 0 {
		cfg.Registry.WarmBlendWeight = 0.7
	}
	if cfg.Registry.WarmBlendWeightOld == 0 {
		cfg.Registry.WarmBlendWeightOld = 0.3
	}
	if cfg.Job.TimeoutS == 0 {
		cfg.Job.TimeoutS = 300
	}
	if cfg.Job.QueueCapacity == 0 {
		cfg.Job.QueueCapacity = 64
	}
	if cfg.Job.WorkerCount == 0 {
		cfg.Job.WorkerCount = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRAL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORRAL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CORRAL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CORRAL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CORRAL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CORRAL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CORRAL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CORRAL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CORRAL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CORRAL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CORRAL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("CORRAL_RAW_VIDEO_ROOT"); v != "" {
		cfg.Storage.RawVideoRoot = v
	}
	if v := os.Getenv("CORRAL_OUTPUT_ROOT"); v != "" {
		cfg.Storage.OutputRoot = v
	}
	if v := os.Getenv("CORRAL_JOB_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Job.WorkerCount = n
		}
	}
}
