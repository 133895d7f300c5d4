// Package server exposes an Engine to local clients: request/response frames
// over a websocket at /ws and a plain GET /health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/atlas/core"
)

// Operations is the surface served to clients. *engine.Engine implements it.
type Operations interface {
	Ingest(ctx context.Context, in core.IngestInput) (*core.IngestResult, error)
	Search(ctx context.Context, in core.SearchInput) (*core.SearchResult, error)
	Consolidate(ctx context.Context, in core.ConsolidateInput) (*core.ConsolidationResult, error)
	Health(ctx context.Context) (*core.HealthReport, error)
	Status(ctx context.Context) (*core.StatusReport, error)
}

// Server serves Operations over HTTP.
type Server struct {
	ops               Operations
	addr              string
	requestsPerMinute int
	burst             int
	upgrader          websocket.Upgrader
	router            *router

	mu      sync.Mutex
	clients map[string]*client
	http    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits requests per connection. Zero disables the limit.
// Default: unlimited, burst 5.
func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(s *Server) {
		s.requestsPerMinute = requestsPerMinute
		if burst > 0 {
			s.burst = burst
		}
	}
}

// New creates a server for ops listening on addr.
func New(ops Operations, addr string, opts ...Option) *Server {
	s := &Server{
		ops:     ops,
		addr:    addr,
		burst:   5,
		clients: map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local daemon; browsers must come from the same host.
			CheckOrigin: sameHostOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = newRouter(ops)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	s.mu.Unlock()

	log.Printf("[SERVER] Listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Printf("[SERVER] Stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.ops.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}

	c := newClient(conn, s.router, s.requestsPerMinute, s.burst)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	log.Printf("[SERVER] Client %s connected from %s", c.id, r.RemoteAddr)

	// The request context ends with the handler; clients outlive it.
	c.run(context.WithoutCancel(r.Context()))

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	log.Printf("[SERVER] Client %s disconnected", c.id)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.conn.Close()
	}
}

func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
