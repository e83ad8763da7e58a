package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// TokenProvider supplies a short-lived bearer credential. Implementations
// must fetch fresh on every call; the connection manager never caches
// tokens across attempts.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Config for the HTTP token provider.
type Config struct {
	TokenURL          string  `yaml:"token_url"`
	APIKey            string  `yaml:"api_key"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// HTTPTokenProvider fetches bearer tokens from the back-office auth
// endpoint. Requests are rate limited so reconnect storms cannot hammer
// the token service.
type HTTPTokenProvider struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPTokenProvider(cfg Config) (*HTTPTokenProvider, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token provider: token_url required")
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	return &HTTPTokenProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Token requests a fresh credential. An empty token in a 200 response is
// treated as an error so callers can fail fast before opening a channel.
func (p *HTTPTokenProvider) Token(ctx context.Context) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("token rate limit: %w", err)
	}

	body, err := json.Marshal(map[string]string{"api_key": p.cfg.APIKey})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(b))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token response missing token")
	}
	return tr.Token, nil
}

// Static returns a provider that always yields the same token. Used by
// the stub tooling and tests.
func Static(token string) TokenProvider {
	return staticProvider(token)
}

type staticProvider string

func (s staticProvider) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no token configured")
	}
	return string(s), nil
}
