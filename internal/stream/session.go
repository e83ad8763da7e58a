package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
	"github.com/IsmailofficialGithub/admin-stream/internal/transport"
)

// Handler receives a session's decoded stream. Calls arrive from the
// connection's read loop, one at a time per session.
type Handler interface {
	OnSnapshot(records []json.RawMessage)
	OnIncrement(record json.RawMessage)
	OnStatus(connected bool, reason string)
	OnStreamError(err error)
}

// Session layers a namespace contract on a connection manager: it issues
// the snapshot request exactly once per successful connection and routes
// snapshot/increment frames to the handler. Ordering between the snapshot
// response and concurrent increments is not guaranteed; the handler's
// merge must be order-independent.
type Session struct {
	contract Contract
	mgr      *transport.Manager
	handler  Handler
	logger   zerolog.Logger
}

// NewSession builds a session with the default dual-transport dialer.
func NewSession(cfg transport.Config, c Contract, tokens auth.TokenProvider, h Handler) (*Session, error) {
	logger := observ.Component("stream-session", "namespace", c.Namespace)
	dialer, err := transport.NewDialer(cfg.BaseURL, c.Namespace, time.Duration(cfg.PollWaitMs)*time.Millisecond, logger)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", c.Namespace, err)
	}
	return NewSessionWithDialer(cfg, c, tokens, dialer, h)
}

// NewSessionWithDialer is the injection point for tests and stubs.
func NewSessionWithDialer(cfg transport.Config, c Contract, tokens auth.TokenProvider, dialer transport.Dialer, h Handler) (*Session, error) {
	if h == nil {
		return nil, fmt.Errorf("session %s: handler required", c.Namespace)
	}
	s := &Session{
		contract: c,
		handler:  h,
		logger:   observ.Component("stream-session", "namespace", c.Namespace),
	}
	mgr, err := transport.NewManager(cfg, c.Namespace, tokens, dialer, transport.Callbacks{
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnError:      s.onError,
		OnFrame:      s.onFrame,
	})
	if err != nil {
		return nil, err
	}
	s.mgr = mgr
	return s, nil
}

func (s *Session) Connect(ctx context.Context) { s.mgr.Connect(ctx) }
func (s *Session) Disconnect()                 { s.mgr.Disconnect() }
func (s *Session) Reconnect(ctx context.Context) {
	s.mgr.Reconnect(ctx)
}

func (s *Session) State() transport.State        { return s.mgr.State() }
func (s *Session) TransportKind() transport.Kind { return s.mgr.TransportKind() }
func (s *Session) Contract() Contract            { return s.contract }

func (s *Session) onConnect(kind transport.Kind) {
	// snapshot request goes out once per successful connection, before
	// the consumer is told it is connected
	if err := s.mgr.Send(s.contract.RequestEvent, map[string]any{}); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot request failed")
	}
	s.handler.OnStatus(true, "")
}

func (s *Session) onDisconnect(reason string) {
	s.handler.OnStatus(false, reason)
}

func (s *Session) onError(err error) {
	s.handler.OnStreamError(err)
}

func (s *Session) onFrame(f transport.Frame) {
	switch f.Event {
	case s.contract.SnapshotEvent:
		arr := gjson.GetBytes(f.Data, s.contract.SnapshotField).Array()
		records := make([]json.RawMessage, 0, len(arr))
		for _, r := range arr {
			records = append(records, json.RawMessage(r.Raw))
		}
		observ.IncCounter("stream_snapshots_total", map[string]string{"namespace": s.contract.Namespace})
		s.handler.OnSnapshot(records)
	case s.contract.IncrementEvent:
		s.handler.OnIncrement(json.RawMessage(f.Data))
	case "error":
		msg := gjson.GetBytes(f.Data, "message").String()
		if msg == "" {
			msg = string(f.Data)
		}
		s.handler.OnStreamError(fmt.Errorf("server error: %s", msg))
	default:
		s.logger.Debug().Str("event", f.Event).Msg("ignoring unknown event")
	}
}
