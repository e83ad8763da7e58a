package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/config"
	"github.com/IsmailofficialGithub/admin-stream/internal/feed"
	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
	"github.com/IsmailofficialGithub/admin-stream/internal/stream"
)

func main() {
	cfgPath := flag.String("config", "config/stream.yaml", "path to config file")
	staticToken := flag.String("token", "", "static bearer token (skips the token endpoint)")
	only := flag.String("ns", "", "tail a single namespace: logs or errors")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observ.Setup(cfg.Log.Level, cfg.Log.Console)

	var tokens auth.TokenProvider
	if *staticToken != "" {
		tokens = auth.Static(*staticToken)
	} else {
		tokens, err = auth.NewHTTPTokenProvider(cfg.Auth)
		if err != nil {
			log.Fatal().Err(err).Msg("token provider")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type tailed struct {
		feed     *feed.Feed
		contract stream.Contract
	}
	var feeds []tailed

	add := func(c stream.Contract, section config.FeedSection) {
		if *only != "" && *only != c.Namespace {
			return
		}
		if *only == "" && !section.Enabled {
			return
		}
		f, err := feed.New(feed.Config{Transport: cfg.Realtime, BufferCap: section.BufferCap}, c, tokens)
		if err != nil {
			log.Fatal().Err(err).Str("namespace", c.Namespace).Msg("build feed")
		}
		f.SetEnabled(ctx, true)
		feeds = append(feeds, tailed{feed: f, contract: c})
	}
	add(stream.Logs(), cfg.Feeds.Logs)
	add(stream.Errors(), cfg.Feeds.Errors)

	if len(feeds) == 0 {
		fmt.Fprintln(os.Stderr, "no feeds enabled")
		os.Exit(1)
	}

	if cfg.Admin.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.HealthHandler())
		go func() {
			if err := http.ListenAndServe(cfg.Admin.ListenAddr, mux); err != nil {
				log.Error().Err(err).Msg("admin endpoint")
			}
		}()
	}

	// drain loop: print whatever arrived since the last tick as JSON lines
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ticker.C:
			for _, t := range feeds {
				events := t.feed.Events()
				t.feed.ClearEvents()
				for i := len(events) - 1; i >= 0; i-- {
					_ = enc.Encode(events[i])
				}
				if msg := t.feed.ConnError(); msg != "" {
					log.Warn().Str("namespace", t.contract.Namespace).Str("error", msg).Msg("connection degraded")
				}
			}
		case <-sig:
			log.Info().Msg("shutting down")
			for _, t := range feeds {
				t.feed.Close()
			}
			return
		}
	}
}
