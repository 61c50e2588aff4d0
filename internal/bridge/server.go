// Package bridge exposes the signaling facade to a host runtime over a
// local WebSocket.
package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"omegartc/native/internal/signal"
)

// Path is where the bridge accepts WebSocket connections.
const Path = "/rtc"

// HealthPath reports liveness and the number of connected clients.
const HealthPath = "/health"

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Server accepts host runtime clients.
type Server struct {
	facade       *signal.Facade
	log          logging.LeveledLogger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

// NewServer creates a bridge over facade.
func NewServer(facade *signal.Facade, lf logging.LoggerFactory) *Server {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Server{
		facade: facade,
		log:    lf.NewLogger("bridge"),
		upgrader: websocket.Upgrader{
			// The host runtime is served from arbitrary origins; the listen
			// address keeps the bridge local.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[string]*client),
	}
}

// Handler returns a mux serving the bridge at Path and a health report at
// HealthPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	mux.HandleFunc(HealthPath, s.health)
	return mux
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.Clients(),
	}); err != nil {
		s.log.Debugf("health: %v", err)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade: %v", err)
		return
	}

	c := newClient(uuid.NewString(), conn, s)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.log.Infof("client %s connected from %s", c.id, r.RemoteAddr)
	go c.readLoop()
	go c.pingLoop(s.pingInterval)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}
