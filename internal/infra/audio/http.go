package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"guitar-tuner/internal/application"
)

const (
	maxBodyBytes = 64 * 1024 * 1024
	chunkSamples = 1024
)

// HTTPSource accepts raw PCM over POST /samples. Only one upload is ingested
// at a time so the ring keeps a single writer.
type HTTPSource struct {
	addr        string
	authToken   string
	encoding    Encoding
	logger      *slog.Logger
	mux         *http.ServeMux
	rateLimiter *RateLimiter

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	sink     application.SampleSink
	running  bool

	ingest   sync.Mutex
	received atomic.Uint64
}

type HTTPOption func(*HTTPSource)

func WithEncoding(enc Encoding) HTTPOption {
	return func(h *HTTPSource) {
		h.encoding = enc
	}
}

func WithRateLimit(rate int, window time.Duration) HTTPOption {
	return func(h *HTTPSource) {
		h.rateLimiter = NewRateLimiter(rate, window)
	}
}

func NewHTTPSource(addr string, authToken string, logger *slog.Logger, opts ...HTTPOption) *HTTPSource {
	h := &HTTPSource{
		addr:        addr,
		authToken:   authToken,
		encoding:    EncodingS16LE,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(120, time.Minute),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /samples", h.rateLimiter.Middleware(h.handleSamples))
	// No rate limiting on health check
	h.mux.HandleFunc("GET /health", h.handleHealth)
	return h
}

func (h *HTTPSource) Name() string {
	return "http"
}

func (h *HTTPSource) Handler() http.Handler {
	return h.mux
}

// Addr returns the bound address once started, or the configured one.
func (h *HTTPSource) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Received returns the number of samples ingested so far.
func (h *HTTPSource) Received() uint64 {
	return h.received.Load()
}

func (h *HTTPSource) Start(_ context.Context, sink application.SampleSink) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln
	h.sink = sink
	h.server = &http.Server{
		Handler:           h.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	server := h.server
	go func() {
		h.logger.Info("HTTP sample server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", "error", err)
		}
	}()

	h.running = true
	return nil
}

func (h *HTTPSource) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	h.sink = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := h.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	return nil
}

func (h *HTTPSource) currentSink() application.SampleSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

func (h *HTTPSource) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	// Check header first
	token := r.Header.Get("X-Auth-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == h.authToken
}

func (h *HTTPSource) handleSamples(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if !h.authorized(r) {
		h.logger.Warn("unauthorized sample upload", "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	enc := h.encoding
	if v := r.URL.Query().Get("encoding"); v != "" {
		parsed, err := ParseEncoding(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		enc = parsed
	}

	sink := h.currentSink()
	if sink == nil {
		http.Error(w, "not running", http.StatusServiceUnavailable)
		return
	}

	if !h.ingest.TryLock() {
		http.Error(w, "another upload is in progress", http.StatusConflict)
		return
	}
	defer h.ingest.Unlock()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	n, err := streamPCM(body, enc, chunkSamples, sink.Push)
	h.received.Add(uint64(n))
	if err != nil {
		h.logger.Warn("sample upload failed", "error", err, "samples", n)
		http.Error(w, fmt.Sprintf("decoding body: %v", err), http.StatusBadRequest)
		return
	}
	if n == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	h.logger.Debug("received samples via HTTP", "samples", n, "encoding", enc)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"status":"received","samples":%d}`, n)
}

func (h *HTTPSource) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()

	status := "ok"
	statusCode := http.StatusOK

	if !running {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"status":"%s","running":%t,"samples_received":%d}`, status, running, h.Received())
}
