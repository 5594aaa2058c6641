package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 10 {
		t.Errorf("default max_concurrent_tasks = %d, want 10", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scaling.MaxConcurrent != 50 {
		t.Errorf("default max_concurrent = %d, want 50", cfg.Scaling.MaxConcurrent)
	}
	if cfg.Cache.Optimizer.HotspotWindowSize != 100 {
		t.Errorf("default hotspot window = %d, want 100", cfg.Cache.Optimizer.HotspotWindowSize)
	}
	if cfg.Monitor.SamplingInterval != 5*time.Second {
		t.Errorf("default sampling interval = %v, want 5s", cfg.Monitor.SamplingInterval)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"100MB", 100 << 20, false},
		{"2GB", 2 << 30, false},
		{"1.5KB", 1536, false},
		{"512", 512, false},
		{"10 GB", 10 << 30, false},
		{"1tb", 1 << 40, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"zero concurrency", func(c *Configuration) { c.Scheduler.MaxConcurrentTasks = 0 }},
		{"min ttl above max", func(c *Configuration) { c.Cache.MinTTL = 2 * time.Hour }},
		{"bad local size", func(c *Configuration) { c.Cache.Local.MaxSize = "lots" }},
		{"min concurrent zero", func(c *Configuration) { c.Scaling.MinConcurrent = 0 }},
		{"min above max concurrent", func(c *Configuration) { c.Scaling.MinConcurrent = 60 }},
		{"scale up below one", func(c *Configuration) { c.Scaling.ScaleUpFactor = 0.9 }},
		{"scale down above one", func(c *Configuration) { c.Scaling.ScaleDownFactor = 1.2 }},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }},
		{"zero hotspot window", func(c *Configuration) { c.Cache.Optimizer.HotspotWindowSize = 0 }},
		{"zero sampling interval", func(c *Configuration) { c.Monitor.SamplingInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "renderflow.yaml")

	cfg := NewDefault()
	cfg.Scheduler.MaxConcurrentTasks = 25
	cfg.Cache.Local.MaxSize = "64MB"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Scheduler.MaxConcurrentTasks != 25 {
		t.Errorf("max_concurrent_tasks = %d, want 25", loaded.Scheduler.MaxConcurrentTasks)
	}
	if loaded.Cache.Local.MaxSize != "64MB" {
		t.Errorf("local max_size = %s, want 64MB", loaded.Cache.Local.MaxSize)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/renderflow.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("RENDERFLOW_MAX_CONCURRENT_TASKS", "33")
	os.Setenv("RENDERFLOW_LOCAL_CACHE_MAX_SIZE", "256MB")
	os.Setenv("RENDERFLOW_AUTO_SCALING", "false")
	defer func() {
		os.Unsetenv("RENDERFLOW_MAX_CONCURRENT_TASKS")
		os.Unsetenv("RENDERFLOW_LOCAL_CACHE_MAX_SIZE")
		os.Unsetenv("RENDERFLOW_AUTO_SCALING")
	}()

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 33 {
		t.Errorf("max_concurrent_tasks = %d, want 33", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Cache.Local.MaxSize != "256MB" {
		t.Errorf("local max_size = %s", cfg.Cache.Local.MaxSize)
	}
	if cfg.Scaling.Enabled {
		t.Error("auto scaling should be disabled via env")
	}
}
