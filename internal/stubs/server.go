package stubs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/IsmailofficialGithub/admin-stream/internal/observ"
	"github.com/IsmailofficialGithub/admin-stream/internal/transport"
)

// NamespaceConfig tells the server how to answer a namespace's snapshot
// request.
type NamespaceConfig struct {
	RequestEvent  string
	SnapshotEvent string
	SnapshotField string
	Snapshot      func() []json.RawMessage
}

// Server is a stub realtime backend speaking both transports the client
// negotiates: websocket at /{ns}/ws and long-polling at /{ns}/poll. Used
// by cmd/stubs for local runs and by integration tests.
type Server struct {
	token    string
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

type hub struct {
	name     string
	cfg      NamespaceConfig
	ws       map[*websocket.Conn]*sync.Mutex // per-conn write lock
	sessions map[string]*pollSession
}

type pollSession struct {
	id    string
	queue chan transport.Frame
	idle  *time.Timer
}

const (
	pollQueueSize   = 256
	pollIdleTimeout = 60 * time.Second
	wsPingInterval  = 20 * time.Second
)

func NewServer(token string) *Server {
	return &Server{
		token:  token,
		logger: observ.Component("stub-server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hubs: map[string]*hub{},
	}
}

// Register adds a namespace. Must be called before serving.
func (s *Server) Register(ns string, cfg NamespaceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hubs[ns] = &hub{
		name:     ns,
		cfg:      cfg,
		ws:       map[*websocket.Conn]*sync.Mutex{},
		sessions: map[string]*pollSession{},
	}
}

// Handler routes /{ns}/ws and /{ns}/poll[...] plus /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", observ.Health())
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/", s.route)
	return mux
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	h := s.hubs[parts[0]]
	s.mu.Unlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "ws":
		s.serveWS(w, r, h)
	case len(parts) == 2 && parts[1] == "poll" && r.Method == http.MethodPost:
		s.pollHandshake(w, r, h)
	case len(parts) == 2 && parts[1] == "poll" && r.Method == http.MethodGet:
		s.pollRecv(w, r, h)
	case len(parts) == 2 && parts[1] == "poll" && r.Method == http.MethodDelete:
		s.pollDelete(w, r, h)
	case len(parts) == 3 && parts[1] == "poll" && parts[2] == "send" && r.Method == http.MethodPost:
		s.pollSend(w, r, h)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) authorized(token string) bool {
	return s.token == "" || token == s.token
}

// ---- websocket transport ----

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, h *hub) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// handshake: first frame carries the credential
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hs transport.Frame
	if err := conn.ReadJSON(&hs); err != nil || hs.Event != "handshake" {
		_ = conn.Close()
		return
	}
	token := gjson.GetBytes(hs.Data, "auth.token").String()
	if !s.authorized(token) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(transport.CloseAuthFailure, "Authentication failed"), time.Now().Add(time.Second))
		_ = conn.Close()
		observ.IncCounter("stub_auth_rejects_total", map[string]string{"namespace": h.name})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sid, _ := json.Marshal(map[string]string{"sid": uuid.NewString()})
	writeMu := &sync.Mutex{}
	if err := conn.WriteJSON(transport.Frame{Event: "connected", Data: sid}); err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	h.ws[conn] = writeMu
	s.mu.Unlock()
	s.logger.Info().Str("namespace", h.name).Msg("ws client connected")

	defer func() {
		s.mu.Lock()
		delete(h.ws, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info().Str("namespace", h.name).Msg("ws client disconnected")
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var f transport.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == h.cfg.RequestEvent {
			writeMu.Lock()
			err := conn.WriteJSON(s.snapshotFrame(h))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// ---- long-poll transport ----

func (s *Server) pollHandshake(w http.ResponseWriter, r *http.Request, h *hub) {
	var body struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !s.authorized(body.Auth.Token) {
		observ.IncCounter("stub_auth_rejects_total", map[string]string{"namespace": h.name})
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	sess := &pollSession{
		id:    uuid.NewString(),
		queue: make(chan transport.Frame, pollQueueSize),
	}
	sess.idle = time.AfterFunc(pollIdleTimeout, func() { s.expire(h, sess.id) })

	s.mu.Lock()
	h.sessions[sess.id] = sess
	s.mu.Unlock()
	s.logger.Info().Str("namespace", h.name).Str("sid", sess.id).Msg("poll session opened")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"sid": sess.id})
}

func (s *Server) session(h *hub, sid string) *pollSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.sessions[sid]
}

func (s *Server) expire(h *hub, sid string) {
	s.mu.Lock()
	sess := h.sessions[sid]
	if sess != nil {
		sess.idle.Stop()
		delete(h.sessions, sid)
	}
	s.mu.Unlock()
	if sess != nil {
		s.logger.Debug().Str("namespace", h.name).Str("sid", sid).Msg("poll session expired")
	}
}

func (s *Server) pollRecv(w http.ResponseWriter, r *http.Request, h *hub) {
	sess := s.session(h, r.URL.Query().Get("sid"))
	if sess == nil {
		http.Error(w, "session gone", http.StatusGone)
		return
	}
	sess.idle.Reset(pollIdleTimeout)

	wait := 25 * time.Second
	if ms, err := strconv.Atoi(r.URL.Query().Get("wait_ms")); err == nil && ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
	}

	var batch []transport.Frame
	select {
	case f := <-sess.queue:
		batch = append(batch, f)
		for len(batch) < 64 {
			select {
			case f := <-sess.queue:
				batch = append(batch, f)
			default:
				goto respond
			}
		}
	case <-time.After(wait):
		w.WriteHeader(http.StatusNoContent)
		return
	case <-r.Context().Done():
		return
	}

respond:
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(batch)
}

func (s *Server) pollSend(w http.ResponseWriter, r *http.Request, h *hub) {
	sess := s.session(h, r.URL.Query().Get("sid"))
	if sess == nil {
		http.Error(w, "session gone", http.StatusGone)
		return
	}
	var f transport.Frame
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, "bad frame: "+err.Error(), http.StatusBadRequest)
		return
	}
	if f.Event == h.cfg.RequestEvent {
		select {
		case sess.queue <- s.snapshotFrame(h):
		default:
			s.logger.Warn().Str("namespace", h.name).Msg("poll queue full, dropping snapshot")
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) pollDelete(w http.ResponseWriter, r *http.Request, h *hub) {
	s.expire(h, r.URL.Query().Get("sid"))
	w.WriteHeader(http.StatusOK)
}

// ---- event production ----

func (s *Server) snapshotFrame(h *hub) transport.Frame {
	var records []json.RawMessage
	if h.cfg.Snapshot != nil {
		records = h.cfg.Snapshot()
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	data, _ := json.Marshal(map[string]any{h.cfg.SnapshotField: records})
	return transport.Frame{Event: h.cfg.SnapshotEvent, Data: data}
}

// Broadcast pushes an increment event to every connected client of a
// namespace, across both transports.
func (s *Server) Broadcast(ns, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	f := transport.Frame{Event: event, Data: data}

	s.mu.Lock()
	h := s.hubs[ns]
	if h == nil {
		s.mu.Unlock()
		return
	}
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.ws))
	for c, mu := range h.ws {
		conns[c] = mu
	}
	sessions := make([]*pollSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for c, mu := range conns {
		mu.Lock()
		err := c.WriteJSON(f)
		mu.Unlock()
		if err != nil {
			s.logger.Warn().Err(err).Str("namespace", ns).Msg("ws broadcast failed, dropping connection")
			s.mu.Lock()
			delete(h.ws, c)
			s.mu.Unlock()
			_ = c.Close()
		}
	}
	for _, sess := range sessions {
		select {
		case sess.queue <- f:
		default:
			s.logger.Warn().Str("namespace", ns).Str("sid", sess.id).Msg("poll queue full, dropping event")
		}
	}
}

// KickAll force-closes every client of a namespace. clean sends a normal
// close (server-initiated shutdown); otherwise connections drop abruptly,
// which clients treat as a transient loss.
func (s *Server) KickAll(ns string, clean bool) {
	s.mu.Lock()
	h := s.hubs[ns]
	if h == nil {
		s.mu.Unlock()
		return
	}
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.ws))
	for c, mu := range h.ws {
		conns[c] = mu
		delete(h.ws, c)
	}
	var sids []string
	for sid := range h.sessions {
		sids = append(sids, sid)
	}
	s.mu.Unlock()

	for c, mu := range conns {
		if clean {
			mu.Lock()
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
			mu.Unlock()
		}
		_ = c.Close()
	}
	for _, sid := range sids {
		s.expire(h, sid)
	}
}

// ClientCount reports live clients on a namespace (both transports).
func (s *Server) ClientCount(ns string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hubs[ns]
	if h == nil {
		return 0
	}
	return len(h.ws) + len(h.sessions)
}
