package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/transport"
)

type fakeConn struct {
	mu     sync.Mutex
	frames chan transport.Frame
	sent   []string
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan transport.Frame, 16)}
}

func (c *fakeConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Frames() <-chan transport.Frame { return c.frames }
func (c *fakeConn) Kind() transport.Kind           { return transport.KindPolling }
func (c *fakeConn) Err() error                     { return errors.New("client disconnect") }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

type connDialer struct{ conn *fakeConn }

func (d *connDialer) Dial(ctx context.Context, token string) (transport.Conn, error) {
	return d.conn, nil
}

type recordingHandler struct {
	mu         sync.Mutex
	snapshots  [][]json.RawMessage
	increments []json.RawMessage
	statuses   chan bool
	errs       chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{statuses: make(chan bool, 16), errs: make(chan error, 16)}
}

func (h *recordingHandler) OnSnapshot(records []json.RawMessage) {
	h.mu.Lock()
	h.snapshots = append(h.snapshots, records)
	h.mu.Unlock()
}

func (h *recordingHandler) OnIncrement(record json.RawMessage) {
	h.mu.Lock()
	h.increments = append(h.increments, record)
	h.mu.Unlock()
}

func (h *recordingHandler) OnStatus(connected bool, reason string) { h.statuses <- connected }
func (h *recordingHandler) OnStreamError(err error)                { h.errs <- err }

func sessionConfig() transport.Config {
	return transport.Config{
		BaseURL:       "http://localhost:0",
		DialTimeoutMs: 1000,
		GraceDelayMs:  10,
		Reconnect:     transport.ReconnectConfig{BaseDelayMs: 1, MaxDelayMs: 16, MaxAttempts: 5},
	}
}

func waitStatus(t *testing.T, h *recordingHandler, want bool) {
	t.Helper()
	select {
	case got := <-h.statuses:
		if got != want {
			t.Fatalf("status = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status %v", want)
	}
}

func TestSnapshotRequestSentOncePerConnection(t *testing.T) {
	conn := newFakeConn()
	h := newRecordingHandler()
	s, err := NewSessionWithDialer(sessionConfig(), Logs(), auth.Static("tok-1"), &connDialer{conn: conn}, h)
	require.NoError(t, err)

	s.Connect(context.Background())
	waitStatus(t, h, true)

	require.Equal(t, []string{"request_today_logs"}, conn.sentEvents())

	// frames do not trigger further requests
	conn.frames <- transport.Frame{Event: "new_log", Data: json.RawMessage(`{"method":"GET"}`)}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"request_today_logs"}, conn.sentEvents())

	s.Disconnect()
}

func TestFrameRouting(t *testing.T) {
	conn := newFakeConn()
	h := newRecordingHandler()
	s, err := NewSessionWithDialer(sessionConfig(), Errors(), auth.Static("tok-1"), &connDialer{conn: conn}, h)
	require.NoError(t, err)

	s.Connect(context.Background())
	waitStatus(t, h, true)

	conn.frames <- transport.Frame{
		Event: "recent_errors",
		Data:  json.RawMessage(`{"errors":[{"id":"e1"},{"id":"e2"}]}`),
	}
	conn.frames <- transport.Frame{Event: "new_error", Data: json.RawMessage(`{"id":"e3"}`)}
	conn.frames <- transport.Frame{Event: "error", Data: json.RawMessage(`{"message":"backend hiccup"}`)}
	conn.frames <- transport.Frame{Event: "something_else", Data: json.RawMessage(`{}`)}

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.snapshots) == 1 && len(h.increments) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.mu.Lock()
	assert.Len(t, h.snapshots[0], 2)
	assert.JSONEq(t, `{"id":"e3"}`, string(h.increments[0]))
	h.mu.Unlock()

	select {
	case err := <-h.errs:
		assert.Contains(t, err.Error(), "backend hiccup")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error relay")
	}

	s.Disconnect()
}

func TestDisconnectReportsStatus(t *testing.T) {
	conn := newFakeConn()
	h := newRecordingHandler()
	s, err := NewSessionWithDialer(sessionConfig(), Logs(), auth.Static("tok-1"), &connDialer{conn: conn}, h)
	require.NoError(t, err)

	s.Connect(context.Background())
	waitStatus(t, h, true)

	// unsolicited drop: the manager reports down, then retries
	conn.Close()
	waitStatus(t, h, false)
}
