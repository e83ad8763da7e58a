package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReconnectDelaySchedule(t *testing.T) {
	cfg := ReconnectConfig{BaseDelayMs: 1000, MaxDelayMs: 30000, MaxAttempts: 5}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for i, w := range want {
		if got := cfg.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}

	// cap kicks in past the configured schedule
	if got := cfg.Delay(6); got != 30000*time.Millisecond {
		t.Errorf("Delay(6) = %v, want 30s cap", got)
	}
	if got := cfg.Delay(20); got != 30000*time.Millisecond {
		t.Errorf("Delay(20) = %v, want 30s cap", got)
	}
	if got := cfg.Delay(0); got != 1000*time.Millisecond {
		t.Errorf("Delay(0) = %v, want base", got)
	}
}

func TestChannelHost(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"strips rest prefix", "https://api.example.com/api/v1", "https://api.example.com", false},
		{"plain host", "http://localhost:8090", "http://localhost:8090", false},
		{"trailing slash", "http://localhost:8090/", "http://localhost:8090", false},
		{"missing scheme", "localhost:abc/path", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChannelHost(tt.base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChannelHost(%q) error = %v, wantErr %v", tt.base, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ChannelHost(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth error type", &AuthError{Reason: "nope"}, true},
		{"wrapped auth error", fmt.Errorf("dial: %w", &AuthError{Reason: "nope"}), true},
		{"message marker", errors.New("Authentication failed"), true},
		{"unauthorized marker", errors.New("server said: Unauthorized"), true},
		{"jwt marker", errors.New("jwt expired"), true},
		{"plain network error", errors.New("connection refused"), false},
		{"timeout", errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthFailure(tt.err); got != tt.want {
				t.Errorf("IsAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientErrorTemporary(t *testing.T) {
	var err error = &TransientError{Err: errors.New("reset"), Attempt: 2, Delay: time.Second}
	var te interface{ Temporary() bool }
	if !errors.As(err, &te) || !te.Temporary() {
		t.Error("TransientError should report Temporary() == true")
	}
}
