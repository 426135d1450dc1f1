// Package daemon holds the process-level plumbing of a running bot: the
// single-instance lockfile and the optional health and metrics endpoint.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/batalabs/soundgrab/internal/domain"
	"github.com/batalabs/soundgrab/internal/metrics"
)

// StatsStore is the part of the store the health endpoint reads.
type StatsStore interface {
	Ping() error
	OutcomeCounts() (map[domain.Outcome]int, error)
}

// Options are the server's collaborators. All are optional.
type Options struct {
	Store       StatsStore
	Sessions    func() int // live chat sessions
	ActiveChats func() int // chats with a handler running
	BotName     string
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// Health is the JSON body of GET /api/health.
type Health struct {
	Status      string `json:"status"`
	PID         int    `json:"pid"`
	Bot         string `json:"bot,omitempty"`
	Uptime      string `json:"uptime"`
	Sessions    int    `json:"sessions"`
	ActiveChats int    `json:"active_chats"`
	StoreError  string `json:"store_error,omitempty"`
}

// Stats is the JSON body of GET /api/stats.
type Stats struct {
	Deliveries map[domain.Outcome]int `json:"deliveries"`
}

// Server serves /api/health, /api/stats and /metrics.
type Server struct {
	opts    Options
	log     *zap.Logger
	started time.Time

	addr   string
	ready  chan struct{} // closed once addr is assigned in Start()
	server *http.Server
}

// NewServer creates a server; call Start to listen.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		opts:    opts,
		log:     log.Named("daemon"),
		started: time.Now(),
		ready:   make(chan struct{}),
	}
}

// Start listens on addr and serves until Shutdown. A port of 0 lets the OS
// pick one; Addr reports the result once Ready is closed.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	s.log.Info("health endpoint listening", zap.String("addr", s.addr))

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	close(s.ready)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Valid after Ready is closed.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status: "ok",
		PID:    os.Getpid(),
		Bot:    s.opts.BotName,
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Sessions != nil {
		h.Sessions = s.opts.Sessions()
	}
	if s.opts.ActiveChats != nil {
		h.ActiveChats = s.opts.ActiveChats()
	}
	status := http.StatusOK
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(); err != nil {
			s.log.Warn("store ping failed", zap.Error(err))
			h.Status = "degraded"
			h.StoreError = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusOK, Stats{Deliveries: map[domain.Outcome]int{}})
		return
	}
	counts, err := s.opts.Store.OutcomeCounts()
	if err != nil {
		s.log.Warn("outcome counts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, Stats{Deliveries: counts})
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: write json response: %v\n", err)
	}
}
