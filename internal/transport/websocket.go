package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// CloseAuthFailure is the close code the backend uses when the handshake
// credential is rejected.
const CloseAuthFailure = 4401

type wsConn struct {
	conn   *websocket.Conn
	frames chan Frame
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func dialWebsocket(ctx context.Context, host, ns, token string, logger zerolog.Logger) (*wsConn, error) {
	u, err := wsEndpoint(host, ns)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Reason: fmt.Sprintf("websocket handshake rejected with status %d", resp.StatusCode)}
		}
		return nil, fmt.Errorf("websocket dial %s: %w", u, err)
	}

	// auth handshake: first frame carries the credential, server answers
	// "connected" or closes with CloseAuthFailure
	hs, _ := json.Marshal(map[string]any{"auth": map[string]string{"token": token}})
	if err := conn.WriteJSON(Frame{Event: "handshake", Data: hs}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket handshake write: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == CloseAuthFailure {
			return nil, &AuthError{Reason: ce.Text}
		}
		return nil, fmt.Errorf("websocket handshake read: %w", err)
	}
	if reply.Event != "connected" {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake reply %q", reply.Event)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &wsConn{
		conn:   conn,
		frames: make(chan Frame, 256),
		logger: logger,
	}
	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.fail(classifyWSClose(err))
			return
		}
		c.frames <- f
	}
}

func (c *wsConn) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(Frame{Event: event, Data: b})
}

func (c *wsConn) Frames() <-chan Frame { return c.frames }
func (c *wsConn) Kind() Kind           { return KindWebsocket }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// first failure wins; later read errors after a local Close are noise
func (c *wsConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fail(errors.New("client disconnect"))
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func classifyWSClose(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return fmt.Errorf("%w: %s", ErrServerClosed, ce.Text)
		case CloseAuthFailure:
			return &AuthError{Reason: ce.Text}
		}
	}
	return err
}

func wsEndpoint(host, ns string) (string, error) {
	switch {
	case strings.HasPrefix(host, "https://"):
		host = "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		host = "ws://" + strings.TrimPrefix(host, "http://")
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
	default:
		return "", fmt.Errorf("unsupported channel host %q", host)
	}
	return host + "/" + ns + "/ws", nil
}
