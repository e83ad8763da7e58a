package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
	"github.com/IsmailofficialGithub/admin-stream/internal/stream"
	"github.com/IsmailofficialGithub/admin-stream/internal/stubs"
)

// store accumulates fixture records plus everything emitted since start,
// so snapshot requests reflect the live state.
type store struct {
	mu     sync.Mutex
	logs   []stubs.APILog
	errors []stubs.WorkflowError
}

func (s *store) snapshotLogs() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, 0, len(s.logs))
	for _, l := range s.logs {
		b, _ := json.Marshal(l)
		out = append(out, b)
	}
	return out
}

func (s *store) snapshotErrors() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, 0, len(s.errors))
	for _, e := range s.errors {
		b, _ := json.Marshal(e)
		out = append(out, b)
	}
	return out
}

func loadFixture[T any](path string, v *T) {
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("read fixture")
	}
	if err := json.Unmarshal(b, v); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("parse fixture")
	}
}

var (
	methods   = []string{"GET", "POST", "PUT", "DELETE"}
	endpoints = []string{"/api/brands", "/api/users", "/api/consumers", "/api/campaigns", "/api/calls", "/api/leads"}
	workflows = []string{"lead-import", "call-routing", "campaign-sync", "email-dispatch"}
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	token := flag.String("token", "dev-token", "bearer token clients must present (empty disables auth)")
	logsPath := flag.String("logs", "", "optional JSON fixture with initial logs")
	errorsPath := flag.String("errors", "", "optional JSON fixture with initial errors")
	emitEvery := flag.Duration("emit", 5*time.Second, "interval between synthetic increments (0 disables)")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	observ.Setup(*logLevel, true)

	st := &store{}
	var lf stubs.APILogsFixture
	loadFixture(*logsPath, &lf)
	st.logs = lf.Logs
	var ef stubs.WorkflowErrorsFixture
	loadFixture(*errorsPath, &ef)
	st.errors = ef.Errors

	logsContract := stream.Logs()
	errorsContract := stream.Errors()

	srv := stubs.NewServer(*token)
	srv.Register(logsContract.Namespace, stubs.NamespaceConfig{
		RequestEvent:  logsContract.RequestEvent,
		SnapshotEvent: logsContract.SnapshotEvent,
		SnapshotField: logsContract.SnapshotField,
		Snapshot:      st.snapshotLogs,
	})
	srv.Register(errorsContract.Namespace, stubs.NamespaceConfig{
		RequestEvent:  errorsContract.RequestEvent,
		SnapshotEvent: errorsContract.SnapshotEvent,
		SnapshotField: errorsContract.SnapshotField,
		Snapshot:      st.snapshotErrors,
	})

	if *emitEvery > 0 {
		go emit(srv, st, logsContract.IncrementEvent, errorsContract.IncrementEvent, *emitEvery)
	}

	log.Info().Str("addr", *addr).Msg("stub realtime server listening")
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

func emit(srv *stubs.Server, st *store, logEvent, errEvent string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		l := stubs.APILog{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Method:     methods[rand.Intn(len(methods))],
			Endpoint:   endpoints[rand.Intn(len(endpoints))],
			Status:     200,
			DurationMs: 20 + rand.Intn(400),
		}
		st.mu.Lock()
		st.logs = append(st.logs, l)
		st.mu.Unlock()
		srv.Broadcast("logs", logEvent, l)

		// errors are rarer than logs
		if rand.Intn(4) == 0 {
			e := stubs.WorkflowError{
				ID:           uuid.NewString(),
				WorkflowID:   uuid.NewString(),
				WorkflowName: workflows[rand.Intn(len(workflows))],
				Message:      fmt.Sprintf("step failed with status %d", 500+rand.Intn(4)),
				CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			}
			st.mu.Lock()
			st.errors = append(st.errors, e)
			st.mu.Unlock()
			srv.Broadcast("errors", errEvent, e)
		}
	}
}
