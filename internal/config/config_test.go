package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Pipeline.MaxQueueSize != 1000 {
		t.Fatalf("default max_queue_size = %d, want 1000", cfg.Pipeline.MaxQueueSize)
	}
	if cfg.Pipeline.AudioEnqueueTimeout() >= cfg.Pipeline.MemoryEnqueueTimeout() {
		t.Fatal("audio enqueue timeout should be shorter than memory enqueue timeout")
	}
	if cfg.Insights.GapMinimum() != 48*time.Hour {
		t.Fatalf("gap minimum = %v, want 48h", cfg.Insights.GapMinimum())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerName != "audiomemd" {
		t.Fatalf("ServerName = %q, want audiomemd", cfg.ServerName)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
log_level: debug
pipeline:
  max_buffer_size: 4
  buffer_stale_seconds: 2
insights:
  min_confidence: 0.75
notifications:
  quiet_start_hour: 23
  quiet_end_hour: 6
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.MaxBufferSize != 4 {
		t.Fatalf("max_buffer_size = %d, want 4", cfg.Pipeline.MaxBufferSize)
	}
	if cfg.Pipeline.BufferStaleTimeout() != 2*time.Second {
		t.Fatalf("buffer_stale_timeout = %v, want 2s", cfg.Pipeline.BufferStaleTimeout())
	}
	if cfg.Insights.MinConfidence != 0.75 {
		t.Fatalf("min_confidence = %v, want 0.75", cfg.Insights.MinConfidence)
	}
	if cfg.Notify.QuietStartHour != 23 || cfg.Notify.QuietEndHour != 6 {
		t.Fatalf("quiet hours = [%d, %d), want [23, 6)", cfg.Notify.QuietStartHour, cfg.Notify.QuietEndHour)
	}
	// Untouched sections keep defaults.
	if cfg.Pipeline.MaxQueueSize != 1000 {
		t.Fatalf("max_queue_size = %d, want default 1000", cfg.Pipeline.MaxQueueSize)
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Storage.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}
