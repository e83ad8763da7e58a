package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/transport"
)

type FeedSection struct {
	Enabled   bool `yaml:"enabled"`
	BufferCap int  `yaml:"buffer_cap"`
}

type Feeds struct {
	Logs   FeedSection `yaml:"logs"`
	Errors FeedSection `yaml:"errors"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type Admin struct {
	ListenAddr string `yaml:"listen_addr"` // metrics/health endpoint, empty disables
}

type Root struct {
	Realtime transport.Config `yaml:"realtime"`
	Auth     auth.Config      `yaml:"auth"`
	Feeds    Feeds            `yaml:"feeds"`
	Log      Log              `yaml:"log"`
	Admin    Admin            `yaml:"admin"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	// Realtime defaults
	if c.Realtime.BaseURL == "" {
		c.Realtime.BaseURL = "http://localhost:8090"
	}
	if c.Realtime.DialTimeoutMs == 0 {
		c.Realtime.DialTimeoutMs = 20000
	}
	if c.Realtime.PollWaitMs == 0 {
		c.Realtime.PollWaitMs = 25000
	}
	if c.Realtime.GraceDelayMs == 0 {
		c.Realtime.GraceDelayMs = 1000
	}
	if c.Realtime.Reconnect.BaseDelayMs == 0 {
		c.Realtime.Reconnect.BaseDelayMs = 1000
	}
	if c.Realtime.Reconnect.MaxDelayMs == 0 {
		c.Realtime.Reconnect.MaxDelayMs = 30000
	}
	if c.Realtime.Reconnect.MaxAttempts == 0 {
		c.Realtime.Reconnect.MaxAttempts = 5
	}

	// Feed defaults
	if c.Feeds.Logs.BufferCap == 0 {
		c.Feeds.Logs.BufferCap = 1000
	}
	if c.Feeds.Errors.BufferCap == 0 {
		c.Feeds.Errors.BufferCap = 1000
	}

	// Auth defaults
	if c.Auth.TimeoutMs == 0 {
		c.Auth.TimeoutMs = 10000
	}
	if c.Auth.RequestsPerSecond == 0 {
		c.Auth.RequestsPerSecond = 2
	}
	if c.Auth.Burst == 0 {
		c.Auth.Burst = 4
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return c, nil
}
