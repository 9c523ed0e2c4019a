package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/technosupport/arcs-relay/internal/audit"
	"github.com/technosupport/arcs-relay/internal/devices"
	"github.com/technosupport/arcs-relay/internal/metrics"
	"github.com/technosupport/arcs-relay/internal/protocol"
	"github.com/technosupport/arcs-relay/internal/ratelimit"
	"github.com/technosupport/arcs-relay/internal/router"
	"github.com/technosupport/arcs-relay/internal/session"
	"github.com/technosupport/arcs-relay/internal/stream"
	"github.com/technosupport/arcs-relay/internal/tokens"
)

// Deps wires the relay's collaborators. Registry, Tokens, Sessions,
// Streams, Limiter, Commands and Audit are required; Metrics is optional.
type Deps struct {
	Registry *devices.Registry
	Tokens   *tokens.Manager
	Sessions *session.Manager
	Streams  *stream.Router
	Limiter  *ratelimit.Limiter
	Commands *router.CommandRouter
	Audit    *audit.Logger
	Metrics  *metrics.Collector
}

// Server accepts WebSocket connections and drives the per-connection
// state machine: CONNECTED -> AUTHENTICATED -> CLOSED.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Clients are native apps, not browsers; origin carries no trust.
				return true
			},
		},
		conns:    make(map[string]*connection),
		shutdown: make(chan struct{}),
	}
}

// ServeWS upgrades an HTTP request and runs the connection until close.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	c := &connection{
		id:          uuid.New().String(),
		ws:          ws,
		server:      s,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.ConnectionsActive.Inc()
	}
	log.Printf("[WS] Connection opened: %s from %s", c.id, c.remoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	s.wg.Add(1)
	defer s.wg.Done()
	c.readLoop()
	s.onClose(c)
}

// ConnectionCount reports currently open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop refuses new connections, closes every open one with a normal
// closure frame, and waits for the pumps to drain. Outstanding queued
// writes are abandoned.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.shutdown) })

	s.mu.Lock()
	open := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.close(websocket.CloseNormalClosure, "server shutdown")
	}

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSession tears a session down: notifies attached controllers,
// unregisters the stream endpoint, drops rate limit state, and closes
// the session record. Used on device disconnect and by the idle reaper.
func (s *Server) CloseSession(sessionID string) {
	sess, ok := s.deps.Sessions.Get(sessionID)

	notice := protocol.MakeSessionEnded(sessionID)
	for _, c := range s.connsForSession(sessionID, roleController) {
		c.enqueue(notice)
	}

	s.deps.Streams.UnregisterDevice(sessionID)
	s.deps.Limiter.Reset(sessionID)

	if s.deps.Sessions.Close(sessionID) && ok {
		s.deps.Audit.LogSession(sessionID, sess.DeviceID, false)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionsActive.Set(float64(s.deps.Sessions.ActiveCount()))
	}
}

// onClose runs registry cleanup after a connection's read loop exits.
func (s *Server) onClose(c *connection) {
	c.close(websocket.CloseNormalClosure, "")

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.ConnectionsActive.Dec()
	}

	authenticated, role, sessionID := c.state()
	if !authenticated {
		log.Printf("[WS] Connection closed: %s", c.id)
		return
	}

	switch role {
	case roleDevice:
		// Device going away ends the session for everyone.
		s.CloseSession(sessionID)
	case roleController:
		s.deps.Sessions.Leave(sessionID, c.id)
		s.deps.Streams.UnregisterController(sessionID, c.id)
	}
	log.Printf("[WS] Connection closed: %s (role=%s session=%s)", c.id, role, sessionID)
}

type connRole int

const (
	roleNone connRole = iota
	roleDevice
	roleController
)

func (r connRole) String() string {
	switch r {
	case roleDevice:
		return "device"
	case roleController:
		return "controller"
	}
	return "none"
}

// connsForSession snapshots matching connections under the lock so no
// transport write ever happens while it is held.
func (s *Server) connsForSession(sessionID string, role connRole) []*connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*connection
	for _, c := range s.conns {
		auth, r, sid := c.state()
		if auth && sid == sessionID && (role == roleNone || r == role) {
			out = append(out, c)
		}
	}
	return out
}

// broadcastToControllers queues a payload for every controller attached
// to the session, in no particular cross-controller order.
func (s *Server) broadcastToControllers(sessionID string, payload []byte) {
	for _, c := range s.connsForSession(sessionID, roleController) {
		c.enqueue(payload)
	}
}

// sendToDevice queues a payload for the session's device connection.
func (s *Server) sendToDevice(sessionID string, payload []byte) {
	for _, c := range s.connsForSession(sessionID, roleDevice) {
		c.enqueue(payload)
	}
}
