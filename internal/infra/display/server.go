// Package display serves the tuner state over HTTP and WebSocket.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"guitar-tuner/internal/domain"
)

const writeTimeout = 5 * time.Second

// StateSource is polled by GET /state and for the first WebSocket message.
type StateSource interface {
	State() domain.TuningState
}

// Server implements application.StateNotifier. Notify never blocks: each
// client holds at most one pending state and a slow client only ever sees
// the newest one.
type Server struct {
	addr    string
	source  StateSource
	logger  *slog.Logger
	mux     *http.ServeMux
	metrics http.Handler

	mu       sync.Mutex
	clients  map[*client]struct{}
	last     domain.TuningState
	hasLast  bool
	stopping bool

	server   *http.Server
	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup
}

type client struct {
	pending chan domain.TuningState
}

type Option func(*Server)

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func NewServer(addr string, source StateSource, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		source:  source,
		logger:  logger,
		mux:     http.NewServeMux(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.mu.Unlock()

	go func() {
		s.logger.Info("display server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("display server error", "error", err)
		}
	}()
	return nil
}

// Stop closes WebSocket streams and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	server := s.server
	s.mu.Unlock()
	s.cancel()

	var err error
	if server != nil {
		if err = server.Shutdown(ctx); err != nil {
			err = fmt.Errorf("shutting down display server: %w", err)
		}
	}
	s.handlers.Wait()
	return err
}

// Notify fans state out to WebSocket clients when the displayed reading changed.
func (s *Server) Notify(state domain.TuningState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLast && s.last.SameReading(state) {
		return
	}
	s.last = state
	s.hasLast = true

	for c := range s.clients {
		c.offer(state)
	}
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (c *client) offer(state domain.TuningState) {
	for {
		select {
		case c.pending <- state:
			return
		default:
		}
		select {
		case <-c.pending:
		default:
		}
	}
}

func (s *Server) addClient() *client {
	c := &client{pending: make(chan domain.TuningState, 1)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.State()); err != nil {
		s.logger.Warn("encoding state", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.source.State()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","state":"%s","clients":%d}`, state.State, s.Clients())
}

// track registers a stream handler unless Stop has begun waiting for them.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("accepting websocket", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	c := s.addClient()
	defer s.removeClient(c)

	// clients never send; CloseRead handles control frames and cancels on close
	ctx := conn.CloseRead(r.Context())

	s.logger.Debug("websocket client connected", "remote_addr", r.RemoteAddr)

	if err := writeState(ctx, conn, s.source.State()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			if s.baseCtx.Err() != nil {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			return
		case state := <-c.pending:
			if err := writeState(ctx, conn, state); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, state domain.TuningState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
