package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openpark/lobbyd/internal/middleware"
)

// Routes builds the HTTP router: REST surface plus the lobby WebSocket.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/register", s.RegisterHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/login", s.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/profile", s.ProfileHandler).Methods(http.MethodGet, http.MethodPatch)

	r.HandleFunc("/api/lobbies", s.CreateLobbyHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies", s.ListLobbiesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/lobbies/{id}", s.GetLobbyHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/lobbies/{id}", s.UpdateLobbyHandler).Methods(http.MethodPatch)
	r.HandleFunc("/api/lobbies/{id}/join", s.JoinLobbyHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/leave", s.LeaveLobbyHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/lobbies/{id}/kick", s.KickHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/ban", s.BanHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/unban", s.UnbanHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/moderators", s.AddModeratorHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/moderators", s.RemoveModeratorHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/lobbies/{id}/transfer", s.TransferOwnershipHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/start", s.StartGameHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/lobbies/{id}/close", s.CloseLobbyHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/lobbies/{id}/messages", s.ListMessagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/lobbies/{id}/messages/{messageID}", s.DeleteMessageHandler).Methods(http.MethodDelete)

	r.HandleFunc("/ws/lobbies/{id}", s.LobbyWSHandler())

	return middleware.LogMiddleware(s.Log)(r)
}
