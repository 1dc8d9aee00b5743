package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/openpark/lobbyd/internal/lobby"
)

// REST moderation endpoints. These mirror the WebSocket-visible actions and
// go through the same coordinator entry points, so both surfaces apply
// identical role checks and mutate identical state.

type targetRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
}

// moderationAction factors the shared authenticate/parse/dispatch shell.
func (s *Server) moderationAction(w http.ResponseWriter, r *http.Request, needsTarget bool,
	apply func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error) {

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

	var req targetRequest
	if needsTarget {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
	}

	coord, err := s.Manager.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := apply(r.Context(), coord, user.ID, req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) KickHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.Kick(ctx, actorID, req.UserID, req.Reason)
	})
}

func (s *Server) BanHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.Ban(ctx, actorID, req.UserID, req.Reason)
	})
}

func (s *Server) UnbanHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.Unban(ctx, actorID, req.UserID)
	})
}

func (s *Server) AddModeratorHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.AddModerator(ctx, actorID, req.UserID)
	})
}

func (s *Server) RemoveModeratorHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.RemoveModerator(ctx, actorID, req.UserID)
	})
}

func (s *Server) TransferOwnershipHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, true, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, req targetRequest) error {
		return coord.TransferOwnership(ctx, actorID, req.UserID)
	})
}

func (s *Server) StartGameHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, false, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, _ targetRequest) error {
		return coord.StartGame(ctx, actorID)
	})
}

func (s *Server) CloseLobbyHandler(w http.ResponseWriter, r *http.Request) {
	s.moderationAction(w, r, false, func(ctx context.Context, coord *lobby.Coordinator, actorID uuid.UUID, _ targetRequest) error {
		return coord.Close(ctx, actorID)
	})
}
