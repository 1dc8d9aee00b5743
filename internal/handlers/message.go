package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/lobby"
	"github.com/openpark/lobbyd/internal/models"
)

// ListMessagesHandler returns recent non-deleted messages for a lobby.
// Members only.
func (s *Server) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := lobbyID(r)
	if err != nil {
		http.Error(w, "invalid lobby id", http.StatusBadRequest)
		return
	}

	coord, err := s.Manager.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, ok := coord.RoleOf(user.ID); !ok {
		s.writeError(w, lobby.ErrForbidden)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := database.ListMessages(r.Context(), id, limit)
	if err != nil {
		s.Log.Warnf("failed to list messages for lobby %s: %v", id, err)
		http.Error(w, "error listing messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// DeleteMessageHandler soft-deletes a message. Allowed for the sender and
// for lobby staff; the row stays for audit.
func (s *Server) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := lobbyID(r)
	if err != nil {
		http.Error(w, "invalid lobby id", http.StatusBadRequest)
		return
	}
	messageID, err := uuid.Parse(mux.Vars(r)["messageID"])
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := database.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.writeError(w, lobby.ErrNotFound)
			return
		}
		s.Log.Warnf("failed to load message %s: %v", messageID, err)
		http.Error(w, "error loading message", http.StatusInternalServerError)
		return
	}
	if msg.LobbyID != id {
		s.writeError(w, lobby.ErrNotFound)
		return
	}

	coord, err := s.Manager.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	role, isMember := coord.RoleOf(user.ID)
	isStaff := isMember && (role == models.RoleOwner || role == models.RoleModerator)
	if msg.SenderID != user.ID && !isStaff {
		s.writeError(w, lobby.ErrForbidden)
		return
	}

	if err := database.SoftDeleteMessage(r.Context(), messageID); err != nil {
		s.Log.Warnf("failed to delete message %s: %v", messageID, err)
		http.Error(w, "error deleting message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
