package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration for audiomemd.
type Config struct {
	ServerName string `yaml:"server_name"`
	LogLevel   string `yaml:"log_level"`

	Storage  StorageConfig  `yaml:"storage"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Insights InsightConfig  `yaml:"insights"`
	Notify   NotifyConfig   `yaml:"notifications"`
}

// StorageConfig selects and parameterizes the memory store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // sqlite or postgres
	DBPath      string `yaml:"db_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// GatewayConfig points at the local model inference servers.
type GatewayConfig struct {
	TranscriberURL        string `yaml:"transcriber_url"`
	ClassifierURL         string `yaml:"classifier_url"`
	EmbedderURL           string `yaml:"embedder_url"`
	EmbedderModel         string `yaml:"embedder_model"`
	EmbeddingDims         int    `yaml:"embedding_dims"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	DefaultLanguage       string `yaml:"default_language"`
}

// RequestTimeout returns the gateway HTTP timeout as a duration.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

// PipelineConfig tunes the real-time ingestion pipeline.
type PipelineConfig struct {
	MaxQueueSize           int `yaml:"max_queue_size"`
	MemoryEnqueueTimeoutMS int `yaml:"memory_enqueue_timeout_ms"`
	AudioEnqueueTimeoutMS  int `yaml:"audio_enqueue_timeout_ms"`
	PollTimeoutMS          int `yaml:"poll_timeout_ms"`
	BufferStaleSeconds     int `yaml:"buffer_stale_seconds"`
	MaxBufferSize          int `yaml:"max_buffer_size"`
	MaxConsecutiveErrors   int `yaml:"max_consecutive_errors"`
	ErrorPauseMS           int `yaml:"error_pause_ms"`
	StopTimeoutSeconds     int `yaml:"stop_timeout_seconds"`
}

func (p PipelineConfig) MemoryEnqueueTimeout() time.Duration {
	return time.Duration(p.MemoryEnqueueTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) AudioEnqueueTimeout() time.Duration {
	return time.Duration(p.AudioEnqueueTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) PollTimeout() time.Duration {
	return time.Duration(p.PollTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) BufferStaleTimeout() time.Duration {
	return time.Duration(p.BufferStaleSeconds) * time.Second
}

func (p PipelineConfig) ErrorPause() time.Duration {
	return time.Duration(p.ErrorPauseMS) * time.Millisecond
}

func (p PipelineConfig) StopTimeout() time.Duration {
	return time.Duration(p.StopTimeoutSeconds) * time.Second
}

// InsightConfig carries the generator thresholds. Values are tuned production
// defaults and remain individually overridable.
type InsightConfig struct {
	HighActivityPerDay   float64 `yaml:"high_activity_per_day"`
	LowActivityPerDay    float64 `yaml:"low_activity_per_day"`
	TrendWindowDays      int     `yaml:"trend_window_days"`
	TrendSlopeThreshold  float64 `yaml:"trend_slope_threshold"`
	DominantEmotionRatio float64 `yaml:"dominant_emotion_ratio"`
	EmotionShiftMinConf  float64 `yaml:"emotion_shift_min_confidence"`
	HighImportance       float64 `yaml:"high_importance_threshold"`
	MediumImportance     float64 `yaml:"medium_importance_threshold"`
	HighImportanceRatio  float64 `yaml:"high_importance_ratio"`
	LowImportanceRatio   float64 `yaml:"low_importance_ratio"`
	TopicShareRatio      float64 `yaml:"topic_share_ratio"`
	TagShareRatio        float64 `yaml:"tag_share_ratio"`
	MinClusterSize       int     `yaml:"min_cluster_size"`
	PeakHourRatio        float64 `yaml:"peak_hour_ratio"`
	PeakWeekdayRatio     float64 `yaml:"peak_weekday_ratio"`
	GapStdDevFactor      float64 `yaml:"gap_stddev_factor"`
	GapMinimumHours      int     `yaml:"gap_minimum_hours"`
	MinSampleSize        int     `yaml:"min_sample_size"`
	MinConfidence        float64 `yaml:"min_confidence"`
	MaxPerKind           int     `yaml:"max_per_kind"`
}

// GapMinimum returns the minimum flagged gap as a duration.
func (i InsightConfig) GapMinimum() time.Duration {
	return time.Duration(i.GapMinimumHours) * time.Hour
}

// NotifyConfig is the user-facing notification policy.
type NotifyConfig struct {
	EnabledTypes      []string `yaml:"enabled_types"`
	PriorityThreshold string   `yaml:"priority_threshold"`
	MaxPerPeriod      int      `yaml:"max_per_period"`
	QuietStartHour    int      `yaml:"quiet_start_hour"`
	QuietEndHour      int      `yaml:"quiet_end_hour"`
	HighStress        float64  `yaml:"high_stress_threshold"`
	HighEngagement    float64  `yaml:"high_engagement_threshold"`
	LowEngagement     float64  `yaml:"low_engagement_threshold"`
	StressAlertIDs    int      `yaml:"stress_alert_memory_count"`
	GoalMinRecords    int      `yaml:"goal_min_records"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		ServerName: "audiomemd",
		LogLevel:   "info",
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: filepath.Join(userHomeDir(), ".audiomem", "memories.db"),
		},
		Gateway: GatewayConfig{
			TranscriberURL:        "http://127.0.0.1:8090",
			ClassifierURL:         "http://127.0.0.1:8091",
			EmbedderURL:           "http://127.0.0.1:11434",
			EmbedderModel:         "nomic-embed-text",
			EmbeddingDims:         768,
			RequestTimeoutSeconds: 30,
			DefaultLanguage:       "en",
		},
		Pipeline: PipelineConfig{
			MaxQueueSize:           1000,
			MemoryEnqueueTimeoutMS: 1000,
			AudioEnqueueTimeoutMS:  500,
			PollTimeoutMS:          1000,
			BufferStaleSeconds:     5,
			MaxBufferSize:          10,
			MaxConsecutiveErrors:   5,
			ErrorPauseMS:           1000,
			StopTimeoutSeconds:     5,
		},
		Insights: InsightConfig{
			HighActivityPerDay:   10,
			LowActivityPerDay:    2,
			TrendWindowDays:      7,
			TrendSlopeThreshold:  0.2,
			DominantEmotionRatio: 0.5,
			EmotionShiftMinConf:  0.7,
			HighImportance:       0.8,
			MediumImportance:     0.5,
			HighImportanceRatio:  0.3,
			LowImportanceRatio:   0.7,
			TopicShareRatio:      0.2,
			TagShareRatio:        0.25,
			MinClusterSize:       3,
			PeakHourRatio:        0.15,
			PeakWeekdayRatio:     0.2,
			GapStdDevFactor:      2.0,
			GapMinimumHours:      48,
			MinSampleSize:        5,
			MinConfidence:        0.6,
			MaxPerKind:           5,
		},
		Notify: NotifyConfig{
			EnabledTypes:      []string{"insight", "pattern_alert", "goal_progress"},
			PriorityThreshold: "medium",
			MaxPerPeriod:      5,
			QuietStartHour:    22,
			QuietEndHour:      7,
			HighStress:        0.7,
			HighEngagement:    0.8,
			LowEngagement:     0.3,
			StressAlertIDs:    5,
			GoalMinRecords:    10,
		},
	}
}

// Load loads config from disk; if path does not exist, default config is
// returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return errors.New("storage.db_path must not be empty")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url must not be empty")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q (expected sqlite or postgres)", c.Storage.Driver)
	}
	if c.Pipeline.MaxQueueSize <= 0 {
		return errors.New("pipeline.max_queue_size must be > 0")
	}
	if c.Pipeline.MaxBufferSize <= 0 {
		return errors.New("pipeline.max_buffer_size must be > 0")
	}
	if c.Pipeline.PollTimeoutMS <= 0 {
		return errors.New("pipeline.poll_timeout_ms must be > 0")
	}
	if c.Pipeline.MaxConsecutiveErrors <= 0 {
		return errors.New("pipeline.max_consecutive_errors must be > 0")
	}
	if c.Insights.MinConfidence < 0 || c.Insights.MinConfidence > 1 {
		return errors.New("insights.min_confidence must be in [0,1]")
	}
	if c.Insights.MaxPerKind <= 0 {
		return errors.New("insights.max_per_kind must be > 0")
	}
	if c.Insights.TrendWindowDays <= 0 {
		return errors.New("insights.trend_window_days must be > 0")
	}
	if c.Notify.MaxPerPeriod <= 0 {
		return errors.New("notifications.max_per_period must be > 0")
	}
	if c.Notify.QuietStartHour < 0 || c.Notify.QuietStartHour > 23 {
		return errors.New("notifications.quiet_start_hour must be in [0,23]")
	}
	if c.Notify.QuietEndHour < 0 || c.Notify.QuietEndHour > 23 {
		return errors.New("notifications.quiet_end_hour must be in [0,23]")
	}
	switch c.Notify.PriorityThreshold {
	case "low", "medium", "high", "urgent":
	default:
		return fmt.Errorf("invalid notifications.priority_threshold %q", c.Notify.PriorityThreshold)
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	if c.Storage.Driver != "sqlite" {
		return nil
	}
	c.Storage.DBPath = ExpandPath(c.Storage.DBPath)
	parent := filepath.Dir(c.Storage.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
