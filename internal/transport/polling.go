package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// pollConn is the long-polling transport: a handshake establishes a
// server-side session (sid), then a GET loop drains frames while POSTs
// carry client frames up.
type pollConn struct {
	client *http.Client
	base   string
	ns     string
	sid    string
	wait   time.Duration
	logger zerolog.Logger

	frames chan Frame
	cancel context.CancelFunc

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

type pollHandshake struct {
	SID string `json:"sid"`
}

func dialPolling(ctx context.Context, host, ns, token string, wait time.Duration, logger zerolog.Logger) (*pollConn, error) {
	body, _ := json.Marshal(map[string]any{"auth": map[string]string{"token": token}})
	req, err := http.NewRequestWithContext(ctx, "POST", host+"/"+ns+"/poll", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// no client-level timeout: the same client serves long polls later
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &AuthError{Reason: fmt.Sprintf("handshake rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(b))}
	default:
		return nil, fmt.Errorf("polling handshake status %d", resp.StatusCode)
	}

	var hs pollHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("handshake response missing sid")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		client: client,
		base:   host,
		ns:     ns,
		sid:    hs.SID,
		wait:   wait,
		logger: logger,
		frames: make(chan Frame, 256),
		cancel: cancel,
	}
	go c.recvLoop(loopCtx)
	return c, nil
}

func (c *pollConn) recvLoop(ctx context.Context) {
	defer close(c.frames)
	url := fmt.Sprintf("%s/%s/poll?sid=%s&wait_ms=%d", c.base, c.ns, c.sid, c.wait.Milliseconds())

	for {
		if ctx.Err() != nil {
			c.fail(errors.New("client disconnect"))
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.wait+10*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, "GET", url, nil)
		if err != nil {
			cancel()
			c.fail(fmt.Errorf("create poll request: %w", err))
			return
		}
		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				c.fail(errors.New("client disconnect"))
			} else {
				c.fail(fmt.Errorf("poll request: %w", err))
			}
			return
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var batch []Frame
			err := json.NewDecoder(resp.Body).Decode(&batch)
			resp.Body.Close()
			cancel()
			if err != nil {
				c.fail(fmt.Errorf("decode poll batch: %w", err))
				return
			}
			for _, f := range batch {
				select {
				case c.frames <- f:
				case <-ctx.Done():
					c.fail(errors.New("client disconnect"))
					return
				}
			}
		case http.StatusNoContent:
			// idle window, poll again
			resp.Body.Close()
			cancel()
		case http.StatusGone, http.StatusNotFound:
			resp.Body.Close()
			cancel()
			c.fail(fmt.Errorf("%w: poll session expired", ErrServerClosed))
			return
		default:
			resp.Body.Close()
			cancel()
			c.fail(fmt.Errorf("poll status %d", resp.StatusCode))
			return
		}
	}
}

func (c *pollConn) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	frame, _ := json.Marshal(Frame{Event: event, Data: b})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/%s/poll/send?sid=%s", c.base, c.ns, c.sid)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send frame status %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) Frames() <-chan Frame { return c.frames }
func (c *pollConn) Kind() Kind           { return KindPolling }

func (c *pollConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *pollConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.fail(errors.New("client disconnect"))
		c.cancel()

		// best effort session teardown
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		url := fmt.Sprintf("%s/%s/poll?sid=%s", c.base, c.ns, c.sid)
		if req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil); err == nil {
			if resp, err := c.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	})
	return nil
}
