package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
)

// Callbacks are the manager's only outbound surface. At most one
// lifecycle callback fires per state transition; errors are funneled
// through OnError instead of being returned, since this is a long-lived
// background connection rather than a request/response call.
type Callbacks struct {
	OnConnect    func(kind Kind)
	OnDisconnect func(reason string)
	OnError      func(err error)
	OnFrame      func(f Frame)
}

// Manager owns the full lifecycle of one namespace channel: credential
// injection, transport negotiation, bounded-backoff reconnection, and
// the manual-vs-automatic disconnect distinction.
//
// Every Connect/Disconnect bumps an epoch; dial completions and retry
// timers carry the epoch they were issued under and are discarded when
// stale, so a slow dial can never resurrect a torn-down session.
type Manager struct {
	cfg    Config
	ns     string
	tokens auth.TokenProvider
	dialer Dialer
	cb     Callbacks
	logger zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	conn     Conn
	state    State
	epoch    uint64
	attempts int
	manual   bool
	retry    *time.Timer
}

func NewManager(cfg Config, ns string, tokens auth.TokenProvider, dialer Dialer, cb Callbacks) (*Manager, error) {
	if ns == "" {
		return nil, errors.New("manager: namespace required")
	}
	if tokens == nil {
		return nil, errors.New("manager: token provider required")
	}
	if dialer == nil {
		return nil, errors.New("manager: dialer required")
	}
	cfg.applyDefaults()
	m := &Manager{
		cfg:    cfg,
		ns:     ns,
		tokens: tokens,
		dialer: dialer,
		cb:     cb,
		logger: observ.Component("stream-manager", "namespace", ns),
	}
	m.setStateLocked(StateIdle)
	return m, nil
}

// Connect starts an asynchronous connection attempt. A call while a
// handle is live or an attempt is in flight is a no-op. Clears the
// manual-disconnect flag.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.stopRetryLocked()
	m.ctx = ctx
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial(ctx, epoch)
}

// Disconnect tears down the live handle, cancels any pending retry timer
// and suppresses auto-reconnect until an explicit Connect or Reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopRetryLocked()
	m.epoch++
	c := m.conn
	m.conn = nil
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if c != nil {
		_ = c.Close()
		observ.IncCounter("stream_disconnects_total", map[string]string{"namespace": m.ns, "cause": "manual"})
		m.logger.Info().Msg("disconnected")
	}
}

// Reconnect clears the manual flag and attempt counter, disconnects, and
// connects again after a fixed grace delay.
func (m *Manager) Reconnect(ctx context.Context) {
	m.Disconnect()

	m.mu.Lock()
	m.manual = false
	m.attempts = 0
	epoch := m.epoch
	grace := time.Duration(m.cfg.GraceDelayMs) * time.Millisecond
	m.retry = time.AfterFunc(grace, func() {
		m.mu.Lock()
		if epoch != m.epoch || m.manual {
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.mu.Unlock()
		m.Connect(ctx)
	})
	m.mu.Unlock()
}

// Send emits a frame on the live handle.
func (m *Manager) Send(event string, data any) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(event, data)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts reports the current reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// TransportKind reports the negotiated transport of the live handle.
func (m *Manager) TransportKind() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return KindNone
	}
	return m.conn.Kind()
}

func (m *Manager) dial(ctx context.Context, epoch uint64) {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.DialTimeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	token, err := m.tokens.Token(dialCtx)
	observ.RecordDuration("stream_token_fetch", time.Since(start), map[string]string{"namespace": m.ns})
	if err != nil || token == "" {
		reason := "no credential available"
		if err != nil {
			reason = err.Error()
		}
		m.fatal(epoch, &AuthError{Reason: reason})
		return
	}

	start = time.Now()
	conn, err := m.dialer.Dial(dialCtx, token)
	observ.RecordDuration("stream_dial", time.Since(start), map[string]string{"namespace": m.ns})
	if err != nil {
		if IsAuthFailure(err) {
			var ae *AuthError
			if !errors.As(err, &ae) {
				err = &AuthError{Reason: err.Error()}
			}
			m.fatal(epoch, err)
			return
		}
		m.scheduleRetry(epoch, err)
		return
	}

	m.mu.Lock()
	if epoch != m.epoch || m.manual {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	observ.IncCounter("stream_connects_total", map[string]string{"namespace": m.ns, "transport": conn.Kind().String()})
	m.logger.Info().Str("transport", conn.Kind().String()).Msg("connected")
	if m.cb.OnConnect != nil {
		m.cb.OnConnect(conn.Kind())
	}
	go m.readLoop(conn, epoch)
}

func (m *Manager) readLoop(conn Conn, epoch uint64) {
	for f := range conn.Frames() {
		observ.IncCounter("stream_frames_total", map[string]string{"namespace": m.ns, "event": f.Event})
		if m.cb.OnFrame != nil {
			m.cb.OnFrame(f)
		}
	}
	m.handleDrop(conn, epoch, conn.Err())
}

// handleDrop processes an unsolicited channel loss: server-initiated
// clean closes stay down, everything else goes through the retry policy.
func (m *Manager) handleDrop(conn Conn, epoch uint64, cause error) {
	m.mu.Lock()
	if epoch != m.epoch || m.conn != conn {
		// manual teardown or a newer generation already took over
		m.mu.Unlock()
		return
	}
	m.conn = nil
	serverClosed := errors.Is(cause, ErrServerClosed)
	if serverClosed {
		m.setStateLocked(StateIdle)
	} else {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	observ.IncCounter("stream_disconnects_total", map[string]string{"namespace": m.ns, "cause": "transport"})
	m.logger.Warn().Str("reason", reason).Msg("channel dropped")
	if m.cb.OnDisconnect != nil {
		m.cb.OnDisconnect(reason)
	}
	if serverClosed {
		return
	}
	m.scheduleRetry(epoch, cause)
}

func (m *Manager) scheduleRetry(epoch uint64, cause error) {
	m.mu.Lock()
	if epoch != m.epoch || m.manual {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.Reconnect.MaxAttempts {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.logger.Error().Err(cause).Int("attempts", m.cfg.Reconnect.MaxAttempts).Msg("reconnect exhausted")
		if m.cb.OnError != nil {
			m.cb.OnError(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.cfg.Reconnect.MaxAttempts, cause))
		}
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.cfg.Reconnect.Delay(attempt)
	m.setStateLocked(StateDisconnected)
	m.retry = time.AfterFunc(delay, func() {
		m.retryFire(epoch)
	})
	m.mu.Unlock()

	observ.IncCounter("stream_reconnect_attempts_total", map[string]string{"namespace": m.ns})
	m.logger.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	if m.cb.OnError != nil {
		m.cb.OnError(&TransientError{Err: cause, Attempt: attempt, Delay: delay})
	}
}

func (m *Manager) retryFire(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.manual || m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	ctx := m.ctx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial(ctx, epoch)
}

// fatal reports a terminal error for the current attempt. No retry, the
// attempt counter is left untouched.
func (m *Manager) fatal(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	observ.IncCounter("stream_auth_failures_total", map[string]string{"namespace": m.ns})
	m.logger.Error().Err(err).Msg("connection attempt failed terminally")
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	observ.SetGauge("stream_connection_state", s.gauge(), map[string]string{"namespace": m.ns})
}
