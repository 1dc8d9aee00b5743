package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/lobby"
	"github.com/openpark/lobbyd/internal/models"
)

const defaultMaxParticipants = 8

type createLobbyRequest struct {
	Name            string `json:"name"`
	IsPublic        *bool  `json:"is_public"`
	MaxParticipants int    `json:"max_participants"`
}

// CreateLobbyHandler creates a lobby. Premium users only; the creator
// becomes the owner and the coordinator starts immediately.
func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !user.IsPremium {
		s.writeError(w, lobby.ErrForbidden)
		return
	}

	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad lobby request payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "lobby name is required", http.StatusBadRequest)
		return
	}
	if req.MaxParticipants <= 0 {
		req.MaxParticipants = defaultMaxParticipants
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	lobbyRow := &models.Lobby{
		ID:              uuid.New(),
		Name:            req.Name,
		OwnerID:         user.ID,
		IsPublic:        isPublic,
		Status:          models.LobbyOpen,
		MaxParticipants: req.MaxParticipants,
		CreatedAt:       time.Now().UTC(),
	}
	if err := database.InsertLobby(r.Context(), lobbyRow); err != nil {
		s.Log.Warnf("failed to insert lobby: %v", err)
		http.Error(w, "error creating lobby", http.StatusInternalServerError)
		return
	}

	s.Manager.Add(lobbyRow, models.Membership{
		LobbyID:  lobbyRow.ID,
		UserID:   user.ID,
		Username: user.Username,
		Role:     models.RoleOwner,
		JoinedAt: lobbyRow.CreatedAt,
	})

	writeJSON(w, http.StatusCreated, lobbyRow)
}

// ListLobbiesHandler lists lobbies with optional public=1, status=, and
// search= filters.
func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		s.writeError(w, err)
		return
	}

	f := database.LobbyFilter{
		PublicOnly: r.URL.Query().Get("public") == "1",
		Status:     models.LobbyStatus(r.URL.Query().Get("status")),
		Search:     r.URL.Query().Get("search"),
	}
	lobbies, err := database.ListLobbies(r.Context(), f)
	if err != nil {
		s.Log.Warnf("failed to list lobbies: %v", err)
		http.Error(w, "error listing lobbies", http.StatusInternalServerError)
		return
	}
	if lobbies == nil {
		lobbies = []models.Lobby{}
	}
	writeJSON(w, http.StatusOK, lobbies)
}

// lobbyID pulls the {id} path variable.
func lobbyID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// GetLobbyHandler returns a lobby with its membership roster.
func (s *Server) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
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
	lobbyRow, members := coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lobby":     lobbyRow,
		"members":   members,
		"connected": coord.ConnectedCount(),
	})
}

type updateLobbyRequest struct {
	Name            *string `json:"name"`
	IsPublic        *bool   `json:"is_public"`
	MaxParticipants *int    `json:"max_participants"`
}

// UpdateLobbyHandler applies owner-editable settings.
func (s *Server) UpdateLobbyHandler(w http.ResponseWriter, r *http.Request) {
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
	var req updateLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	coord, err := s.Manager.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := coord.UpdateSettings(r.Context(), user.ID, lobby.SettingsPatch{
		Name:            req.Name,
		IsPublic:        req.IsPublic,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// JoinLobbyHandler adds the requester as a member (REST path; the live
// session attaches separately over WebSocket).
func (s *Server) JoinLobbyHandler(w http.ResponseWriter, r *http.Request) {
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
	if err := coord.Join(r.Context(), user.ID, user.Username); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "joined lobby"})
}

// LeaveLobbyHandler removes the requester's membership. The owner must
// transfer ownership first.
func (s *Server) LeaveLobbyHandler(w http.ResponseWriter, r *http.Request) {
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
	if err := coord.Leave(r.Context(), user.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "left lobby"})
}
