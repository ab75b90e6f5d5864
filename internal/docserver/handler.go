package docserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/accounts"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
)

// Credentials is the body of the auth routes.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned by the auth routes.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var c Credentials
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := s.accounts.Register(r.Context(), c.Email, c.Password)
	switch {
	case errors.Is(err, accounts.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, accounts.ErrInvalidEmail), errors.Is(err, accounts.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("registration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	s.respondSession(w, http.StatusCreated, acct)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c Credentials
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, err := s.accounts.Authenticate(r.Context(), c.Email, c.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	s.respondSession(w, http.StatusOK, acct)
}

func (s *Server) respondSession(w http.ResponseWriter, status int, acct accounts.Account) {
	token, err := s.accounts.IssueToken(acct)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, status, Session{UserID: acct.ID, Email: acct.Email, Token: token})
}

// authorize checks that the request's token belongs to the document owner.
// It writes the error response and returns false otherwise.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, id string) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return false
	}
	uid, err := s.accounts.VerifyToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	if uid != id {
		writeError(w, http.StatusForbidden, "token does not grant access to this document")
		return false
	}
	return true
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(w, r, id) {
		return
	}

	doc, err := s.store.Get(r.Context(), id)
	if errors.Is(err, remote.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read document", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to read document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(w, r, id) {
		return
	}

	var doc model.AppData
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid document")
		return
	}
	if err := s.store.Put(r.Context(), id, doc); err != nil {
		s.logger.Error("failed to write document", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to write document")
		return
	}

	s.logger.Debug("document written", zap.String("id", id), zap.Int64("lastUpdated", doc.LastUpdated))
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket streams the document: the current version first, then
// every later one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorize(w, r, id) {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = id
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", zap.String("id", id), zap.Int("total", clientCount))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	defer s.removeClient(conn)

	if _, err := s.store.Subscribe(ctx, id, func(d model.AppData) { s.send(conn, d) }); err != nil {
		s.logger.Error("failed to subscribe", zap.String("id", id), zap.Error(err))
		return
	}

	doc, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		s.send(conn, doc)
	case errors.Is(err, remote.ErrNotFound):
		s.write(conn, remote.Message{Type: remote.MessageTypeHello})
	default:
		s.logger.Warn("failed to read document", zap.String("id", id), zap.Error(err))
	}

	// Keep the connection until the client goes away. Client frames are
	// ignored.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, d model.AppData) {
	data, err := json.Marshal(d)
	if err != nil {
		s.logger.Error("failed to marshal document", zap.Error(err))
		return
	}
	s.write(conn, remote.Message{Type: remote.MessageTypeDocument, Data: data})
}

func (s *Server) write(conn *websocket.Conn, msg remote.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("failed to send to client", zap.Error(err))
		s.removeClient(conn)
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	id, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", zap.String("id", id), zap.Int("total", clientCount))
}
