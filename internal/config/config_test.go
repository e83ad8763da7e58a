package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	content := []byte(`
realtime:
  base_url: https://admin.example.com/api
auth:
  token_url: https://admin.example.com/api/auth/token
feeds:
  logs:
    enabled: true
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Realtime.BaseURL != "https://admin.example.com/api" {
		t.Errorf("BaseURL = %q", c.Realtime.BaseURL)
	}
	if c.Realtime.DialTimeoutMs != 20000 {
		t.Errorf("DialTimeoutMs = %d, want 20000", c.Realtime.DialTimeoutMs)
	}
	if c.Realtime.Reconnect.BaseDelayMs != 1000 {
		t.Errorf("BaseDelayMs = %d, want 1000", c.Realtime.Reconnect.BaseDelayMs)
	}
	if c.Realtime.Reconnect.MaxDelayMs != 30000 {
		t.Errorf("MaxDelayMs = %d, want 30000", c.Realtime.Reconnect.MaxDelayMs)
	}
	if c.Realtime.Reconnect.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.Realtime.Reconnect.MaxAttempts)
	}
	if c.Realtime.GraceDelayMs != 1000 {
		t.Errorf("GraceDelayMs = %d, want 1000", c.Realtime.GraceDelayMs)
	}
	if !c.Feeds.Logs.Enabled {
		t.Error("logs feed should be enabled")
	}
	if c.Feeds.Logs.BufferCap != 1000 || c.Feeds.Errors.BufferCap != 1000 {
		t.Errorf("buffer caps = %d/%d, want 1000", c.Feeds.Logs.BufferCap, c.Feeds.Errors.BufferCap)
	}
	if c.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", c.Log.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	content := []byte(`
realtime:
  base_url: http://localhost:9999
  dial_timeout_ms: 5000
  reconnect:
    base_delay_ms: 250
    max_delay_ms: 4000
    max_attempts: 3
feeds:
  errors:
    enabled: true
    buffer_cap: 50
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Realtime.DialTimeoutMs != 5000 {
		t.Errorf("DialTimeoutMs = %d, want 5000", c.Realtime.DialTimeoutMs)
	}
	if c.Realtime.Reconnect.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", c.Realtime.Reconnect.MaxAttempts)
	}
	if c.Feeds.Errors.BufferCap != 50 {
		t.Errorf("BufferCap = %d, want 50", c.Feeds.Errors.BufferCap)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
