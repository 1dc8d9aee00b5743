package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/auth"
	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/lobby"
	"github.com/openpark/lobbyd/internal/models"
)

// Server bundles what the HTTP and WebSocket handlers need: the per-lobby
// coordinator manager and a logger. The REST moderation endpoints and the
// WebSocket flow both go through the same coordinators, so the two surfaces
// can never disagree about lobby state.
type Server struct {
	Manager *lobby.Manager
	Log     *logrus.Logger
}

// NewServer wires a Server around the given store and audit sink.
func NewServer(store lobby.Store, audit lobby.AuditSink, log *logrus.Logger) *Server {
	return &Server{
		Manager: lobby.NewManager(store, audit, log),
		Log:     log,
	}
}

// authenticate resolves the requesting user from the auth_token cookie or an
// Authorization bearer header.
func (s *Server) authenticate(r *http.Request) (*models.User, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		return nil, lobby.ErrUnauthenticated
	}

	userIDStr, err := auth.AuthenticateJWT(token)
	if err != nil {
		return nil, lobby.ErrUnauthenticated
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, lobby.ErrUnauthenticated
	}

	u, err := database.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, lobby.ErrUnauthenticated
	}
	return u, nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core errors onto HTTP statuses and emits a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lobby.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, lobby.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, lobby.ErrLobbyClosed):
		status = http.StatusGone
	case errors.Is(err, lobby.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, lobby.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lobby.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, lobby.ErrPersistence):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.Log.Warnf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
