// Package docserver serves study-plan documents to syncing devices.
//
// Routes:
//
//	POST /auth/register   {email,password} -> {userId,email,token}
//	POST /auth/login      {email,password} -> {userId,email,token}
//	GET  /docs/{id}       current document, 404 when never written
//	PUT  /docs/{id}       replace the document
//	GET  /docs/{id}/ws    websocket streaming the document on every change
//	GET  /health
//
// Document routes require a bearer token whose subject is {id}. The
// websocket also accepts the token as ?access_token= for clients that
// cannot set headers.
package docserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/accounts"
	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/remote"
)

// maxDocumentBytes bounds an uploaded document.
const maxDocumentBytes = 8 << 20

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8787").
	Addr string

	// Store holds the documents. Required.
	Store remote.Store

	// Accounts authenticates users. Required.
	Accounts *accounts.Service

	Logger *zap.Logger
}

// DefaultConfig returns defaults for everything but Store and Accounts.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8787",
	}
}

// Server serves documents over HTTP and websockets.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	store    remote.Store
	accounts *accounts.Service

	// WebSocket client management, keyed to the document each follows.
	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewServer creates a document server.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Store == nil || config.Accounts == nil {
		return nil, fmt.Errorf("store and accounts are required")
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		store:    config.Store,
		accounts: config.Accounts,
		clients:  make(map[*websocket.Conn]string),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.OrNop(config.Logger).Named("docserver"),
	}, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /docs/{id}", s.handleGetDoc)
	mux.HandleFunc("PUT /docs/{id}", s.handlePutDoc)
	mux.HandleFunc("GET /docs/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("document server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes every websocket and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping document server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("document server stopped")
	return nil
}

// GetAddr returns the listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
