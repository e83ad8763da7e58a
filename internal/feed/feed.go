package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IsmailofficialGithub/admin-stream/internal/auth"
	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
	"github.com/IsmailofficialGithub/admin-stream/internal/stream"
	"github.com/IsmailofficialGithub/admin-stream/internal/transport"
)

// AdvisoryReconnecting is the consumer-facing message set while the
// reconnect policy still has attempts left.
const AdvisoryReconnecting = "Connection lost. Reconnecting…"

const defaultBufferCap = 1000

// Event is one record as exposed to consumers.
type Event struct {
	Namespace string          `json:"namespace"`
	Kind      string          `json:"kind"` // "snapshot" | "increment"
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Config for one feed.
type Config struct {
	Transport transport.Config
	BufferCap int `yaml:"buffer_cap"`
}

// Feed bridges a stream session into a stable state surface: connection
// status, last error message, a rolling increment buffer, and the
// deduplicated today/recent buffer. Safe for concurrent use.
type Feed struct {
	sess     *stream.Session
	contract stream.Contract
	cap      int
	now      func() time.Time
	logger   zerolog.Logger

	mu        sync.Mutex
	enabled   bool
	connected bool
	connErr   string
	events    []Event // rolling, newest-first, capped
	today     []Event // snapshot-merged, newest-first, day/recent scoped
	seen      map[string]struct{}
}

// New builds a feed over the default dual-transport dialer.
func New(cfg Config, c stream.Contract, tokens auth.TokenProvider) (*Feed, error) {
	f := newFeed(cfg, c)
	sess, err := stream.NewSession(cfg.Transport, c, tokens, f)
	if err != nil {
		return nil, err
	}
	f.sess = sess
	return f, nil
}

// NewWithDialer is the injection point for tests.
func NewWithDialer(cfg Config, c stream.Contract, tokens auth.TokenProvider, dialer transport.Dialer) (*Feed, error) {
	f := newFeed(cfg, c)
	sess, err := stream.NewSessionWithDialer(cfg.Transport, c, tokens, dialer, f)
	if err != nil {
		return nil, err
	}
	f.sess = sess
	return f, nil
}

func newFeed(cfg Config, c stream.Contract) *Feed {
	bufCap := cfg.BufferCap
	if bufCap <= 0 {
		bufCap = defaultBufferCap
	}
	return &Feed{
		contract: c,
		cap:      bufCap,
		now:      time.Now,
		logger:   observ.Component("feed", "namespace", c.Namespace),
		seen:     map[string]struct{}{},
	}
}

// SetEnabled binds the feed lifecycle to a flag: true connects, false
// disconnects. Repeated calls with the same value are no-ops.
func (f *Feed) SetEnabled(ctx context.Context, enabled bool) {
	f.mu.Lock()
	if f.enabled == enabled {
		f.mu.Unlock()
		return
	}
	f.enabled = enabled
	f.mu.Unlock()

	if enabled {
		f.sess.Connect(ctx)
	} else {
		f.sess.Disconnect()
	}
}

// Close always tears the channel down, regardless of the enabled flag.
func (f *Feed) Close() {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
	f.sess.Disconnect()
}

func (f *Feed) Connect(ctx context.Context)   { f.sess.Connect(ctx) }
func (f *Feed) Disconnect()                   { f.sess.Disconnect() }
func (f *Feed) Reconnect(ctx context.Context) { f.sess.Reconnect(ctx) }

func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// ConnError returns the last connection error message; empty after a
// successful connect.
func (f *Feed) ConnError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connErr
}

// Events returns the rolling increment buffer, newest first.
func (f *Feed) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Today returns the snapshot-merged buffer, newest first. For the errors
// namespace this is the "recent" buffer; no date scoping is applied there.
func (f *Feed) Today() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.today))
	copy(out, f.today)
	return out
}

func (f *Feed) ClearEvents() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

// OnSnapshot replaces the today/recent buffer wholesale, newest first.
// The dedup set is rebuilt so the merge stays idempotent regardless of
// snapshot/increment arrival order.
func (f *Feed) OnSnapshot(records []json.RawMessage) {
	events := make([]Event, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		events = append(events, Event{
			Namespace: f.contract.Namespace,
			Kind:      "snapshot",
			Timestamp: f.contract.Timestamp(r),
			Payload:   r,
		})
		if k := f.contract.Key(r); k != "" {
			seen[k] = struct{}{}
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	f.mu.Lock()
	// increments that raced ahead of the snapshot survive the replace
	carried := 0
	for i := len(f.today) - 1; i >= 0; i-- {
		ev := f.today[i]
		if ev.Kind != "increment" {
			continue
		}
		k := f.contract.Key(ev.Payload)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		events = append([]Event{ev}, events...)
		carried++
	}
	f.today = events
	f.seen = seen
	f.mu.Unlock()

	observ.SetGauge("feed_today_size", float64(len(events)), map[string]string{"namespace": f.contract.Namespace})
	f.logger.Debug().Int("records", len(records)).Int("carried", carried).Msg("snapshot applied")
}

// OnIncrement prepends to the rolling buffer (oldest evicted past cap)
// and, when the record belongs to today/recent scope and its key is
// unseen, to the snapshot-merged buffer.
func (f *Feed) OnIncrement(record json.RawMessage) {
	ev := Event{
		Namespace: f.contract.Namespace,
		Kind:      "increment",
		Timestamp: f.contract.Timestamp(record),
		Payload:   record,
	}

	f.mu.Lock()
	f.events = prepend(f.events, ev, f.cap)

	if f.contract.BelongsToday(record, f.now()) {
		k := f.contract.Key(record)
		if _, dup := f.seen[k]; k != "" && dup {
			f.mu.Unlock()
			observ.IncCounter("feed_dupes_dropped_total", map[string]string{"namespace": f.contract.Namespace})
			return
		}
		if k != "" {
			f.seen[k] = struct{}{}
		}
		f.today = prepend(f.today, ev, 0)
	}
	f.mu.Unlock()

	observ.IncCounter("feed_events_total", map[string]string{"namespace": f.contract.Namespace})
}

func (f *Feed) OnStatus(connected bool, reason string) {
	f.mu.Lock()
	f.connected = connected
	if connected {
		f.connErr = ""
	}
	f.mu.Unlock()
}

func (f *Feed) OnStreamError(err error) {
	var te *transport.TransientError
	msg := err.Error()
	if errors.As(err, &te) {
		msg = AdvisoryReconnecting
	}
	f.mu.Lock()
	f.connErr = msg
	f.mu.Unlock()
}

// prepend inserts newest-first; max 0 means unbounded.
func prepend(s []Event, ev Event, max int) []Event {
	s = append(s, Event{})
	copy(s[1:], s)
	s[0] = ev
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
