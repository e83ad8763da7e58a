package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Frame is the wire unit on a realtime channel: an event name plus an
// opaque JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one live bidirectional channel to a namespace. Frames() yields
// inbound frames in transport order and is closed when the channel dies;
// Err() reports why, once Frames() has closed.
type Conn interface {
	Send(event string, data any) error
	Frames() <-chan Frame
	Err() error
	Kind() Kind
	Close() error
}

// Kind identifies the negotiated transport for a connection handle.
type Kind int

const (
	KindNone Kind = iota
	KindPolling
	KindWebsocket
)

func (k Kind) String() string {
	switch k {
	case KindPolling:
		return "polling"
	case KindWebsocket:
		return "websocket"
	default:
		return "none"
	}
}

// State of a connection manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// gauge values reported to observ; connected must stay 2 for the health
// handler's mapping
func (s State) gauge() float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateDisconnected:
		return 3
	default:
		return 0
	}
}

type Config struct {
	BaseURL       string          `yaml:"base_url"`
	DialTimeoutMs int             `yaml:"dial_timeout_ms"`
	PollWaitMs    int             `yaml:"poll_wait_ms"`
	GraceDelayMs  int             `yaml:"grace_delay_ms"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// Delay returns the backoff before the given attempt (1-based):
// base × 2^(attempt−1), capped at MaxDelayMs.
func (r ReconnectConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelayMs
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.MaxDelayMs {
			delay = r.MaxDelayMs
			break
		}
	}
	if delay > r.MaxDelayMs {
		delay = r.MaxDelayMs
	}
	return time.Duration(delay) * time.Millisecond
}

func (c *Config) applyDefaults() {
	if c.DialTimeoutMs <= 0 {
		c.DialTimeoutMs = 20000
	}
	if c.PollWaitMs <= 0 {
		c.PollWaitMs = 25000
	}
	if c.GraceDelayMs <= 0 {
		c.GraceDelayMs = 1000
	}
	if c.Reconnect.BaseDelayMs <= 0 {
		c.Reconnect.BaseDelayMs = 1000
	}
	if c.Reconnect.MaxDelayMs <= 0 {
		c.Reconnect.MaxDelayMs = 30000
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 5
	}
}

// ChannelHost derives the realtime channel origin from a configured
// server base URL, stripping any REST path prefix (e.g.
// "https://api.example.com/api/v1" -> "https://api.example.com").
func ChannelHost(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q missing scheme or host", base)
	}
	return u.Scheme + "://" + u.Host, nil
}
