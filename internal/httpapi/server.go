// Package httpapi exposes the local control surface: health, outbound
// sends, and the session/auth state endpoints consumed by the agent
// backend process.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/bridge"
	"github.com/matheus3301/wacodex/internal/store"
)

// SecretHeader carries the shared secret on every authenticated request.
const SecretHeader = "X-Sidecar-Secret"

// Sender accepts outbound send requests.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// ConnStatus reports whether a live transport connection exists.
type ConnStatus interface {
	Connected() bool
}

// SessionStore is the subset of the state database the API serves.
type SessionStore interface {
	ThreadForChat(chatID string) (string, bool, error)
	SetThreadForChat(chatID, threadID string) error
	DeleteSession(chatID string) error
	SetPendingLogin(p store.PendingLogin) error
	GetPendingLogin() (store.PendingLogin, bool, error)
	ClearPendingLogin() error
}

// Server is the HTTP control surface. It binds to localhost only; the
// shared secret guards against other local processes, not the network.
type Server struct {
	sender   Sender
	conn     ConnStatus
	sessions SessionStore
	secret   string
	mockMode bool
	logger   *zap.Logger
}

// NewServer creates the control surface handler set.
func NewServer(sender Sender, conn ConnStatus, sessions SessionStore, secret string, mockMode bool, logger *zap.Logger) *Server {
	return &Server{
		sender:   sender,
		conn:     conn,
		sessions: sessions,
		secret:   secret,
		mockMode: mockMode,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /send", s.auth(s.handleSend))
	mux.HandleFunc("GET /sessions/{chatID}", s.auth(s.handleGetSession))
	mux.HandleFunc("PUT /sessions/{chatID}", s.auth(s.handlePutSession))
	mux.HandleFunc("DELETE /sessions/{chatID}", s.auth(s.handleDeleteSession))
	mux.HandleFunc("GET /auth/pending", s.auth(s.handleGetPending))
	mux.HandleFunc("PUT /auth/pending", s.auth(s.handlePutPending))
	mux.HandleFunc("DELETE /auth/pending", s.auth(s.handleDeletePending))
	return mux
}

// Listen serves the API until the context is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && r.Header.Get(SecretHeader) != s.secret {
			writeError(w, http.StatusUnauthorized, "invalid or missing secret")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"mockMode":  s.mockMode,
		"connected": s.conn.Connected(),
	})
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	err := s.sender.Send(r.Context(), req.To, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, bridge.ErrInvalidTarget), errors.Is(err, bridge.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("send request failed", zap.String("to", req.To), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.PathValue("chatID"))
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat ID required")
		return
	}
	threadID, ok, err := s.sessions.ThreadForChat(chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no session for chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"chat_id":   chatID,
		"thread_id": threadID,
	})
}

type putSessionRequest struct {
	ThreadID string `json:"thread_id"`
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.PathValue("chatID"))
	var req putSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if chatID == "" || strings.TrimSpace(req.ThreadID) == "" {
		writeError(w, http.StatusBadRequest, "chat ID and thread_id required")
		return
	}
	if err := s.sessions.SetThreadForChat(chatID, req.ThreadID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.PathValue("chatID"))
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat ID required")
		return
	}
	if err := s.sessions.DeleteSession(chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	login, ok, err := s.sessions.GetPendingLogin()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no pending login")
		return
	}
	writeJSON(w, http.StatusOK, login)
}

func (s *Server) handlePutPending(w http.ResponseWriter, r *http.Request) {
	var login store.PendingLogin
	if err := json.NewDecoder(r.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if login.LoginID == "" {
		writeError(w, http.StatusBadRequest, "login_id required")
		return
	}
	if err := s.sessions.SetPendingLogin(login); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePending(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearPendingLogin(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
