package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/walletd/pkg/logging"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// AllowedOrigins restricts browser origins. Empty allows every origin.
	AllowedOrigins []string
	// MaxMessageSize caps one inbound port frame in bytes.
	MaxMessageSize int64
}

// Server serves the port, the one-shot endpoint, health and metrics.
type Server struct {
	router  *Router
	metrics *Metrics
	cfg     ServerConfig

	upgrader       websocket.Upgrader
	maxMessageSize int64

	ctx    context.Context
	cancel context.CancelFunc

	server   *http.Server
	listener net.Listener

	log     *logging.Logger
	portLog *logging.Logger
}

// NewServer creates a server for router. metrics may be nil.
func NewServer(router *Router, metrics *Metrics, cfg ServerConfig) *Server {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:         router,
		metrics:        metrics,
		cfg:            cfg,
		maxMessageSize: cfg.MaxMessageSize,
		ctx:            ctx,
		cancel:         cancel,
		log:            logging.GetDefault().Component("rpc"),
		portLog:        logging.GetDefault().Component("port"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleRequest)
	mux.HandleFunc("GET /port", s.handlePort)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.corsMiddleware(mux)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", "error", err)
		}
	}()

	s.log.Info("Server started", "addr", listener.Addr().String(), "port", "ws://"+listener.Addr().String()+"/port")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every port and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest serves one non-streaming message over plain HTTP.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var msg Message
	r.Body = http.MaxBytesReader(w, r.Body, s.maxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeFrame(w, http.StatusBadRequest, Frame{Error: "invalid frame: " + err.Error()})
		return
	}

	reply, release := s.router.Dispatch(r.Context(), nil, msg)
	release()

	status := http.StatusOK
	if reply.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	s.writeFrame(w, status, reply)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeFrame(w, http.StatusOK, Frame{ID: "health", Response: map[string]any{
		"status":        "ok",
		"subscriptions": s.router.Subscriptions().Len(),
	}})
}

func (s *Server) writeFrame(w http.ResponseWriter, status int, f Frame) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(f); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// corsMiddleware adds CORS headers for allowed origins and answers preflights.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
