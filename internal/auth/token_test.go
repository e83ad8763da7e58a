package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTokenProvider(t *testing.T) {
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotKey = body["api_key"]
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 900})
	}))
	defer ts.Close()

	p, err := NewHTTPTokenProvider(Config{TokenURL: ts.URL, APIKey: "key-1"})
	if err != nil {
		t.Fatalf("NewHTTPTokenProvider() error = %v", err)
	}

	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("Token() = %q, want tok-1", tok)
	}
	if gotKey != "key-1" {
		t.Errorf("api_key = %q, want key-1", gotKey)
	}
}

func TestHTTPTokenProviderRejectsNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	p, err := NewHTTPTokenProvider(Config{TokenURL: ts.URL})
	if err != nil {
		t.Fatalf("NewHTTPTokenProvider() error = %v", err)
	}
	if _, err := p.Token(context.Background()); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestHTTPTokenProviderRejectsEmptyToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": ""})
	}))
	defer ts.Close()

	p, err := NewHTTPTokenProvider(Config{TokenURL: ts.URL})
	if err != nil {
		t.Fatalf("NewHTTPTokenProvider() error = %v", err)
	}
	if _, err := p.Token(context.Background()); err == nil {
		t.Error("an empty token must fail fast, not open a channel later")
	}
}

func TestHTTPTokenProviderRequiresURL(t *testing.T) {
	if _, err := NewHTTPTokenProvider(Config{}); err == nil {
		t.Error("expected error for missing token_url")
	}
}

func TestStaticProvider(t *testing.T) {
	tok, err := Static("tok-9").Token(context.Background())
	if err != nil || tok != "tok-9" {
		t.Errorf("Static Token() = %q, %v", tok, err)
	}
	if _, err := Static("").Token(context.Background()); err == nil {
		t.Error("empty static token should error")
	}
}
