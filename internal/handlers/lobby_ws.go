package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/auth"
	"github.com/openpark/lobbyd/internal/cache"
	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/lobby"
	"github.com/openpark/lobbyd/internal/models"
)

// LobbyWSHandler upgrades to WebSocket and attaches the caller to a lobby's
// live session. The token travels out-of-band: auth_token cookie or ?token=.
func (s *Server) LobbyWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyUUID, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "invalid lobby_id", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"chat"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		user, err := s.wsAuthenticate(r)
		if err != nil {
			c.Close(CloseUnauthenticated, "authentication failed")
			return
		}

		coord, err := s.Manager.Get(r.Context(), lobbyUUID)
		if err != nil {
			switch {
			case errors.Is(err, lobby.ErrNotFound):
				c.Close(CloseLobbyNotFound, "lobby does not exist")
			case errors.Is(err, lobby.ErrLobbyClosed):
				c.Close(CloseForbidden, "lobby is closed")
			default:
				c.Close(websocket.StatusInternalError, "failed to load lobby")
			}
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := lobby.NewConn(user.ID, user.Username, user.IsPremium, cancel)

		if err := coord.Connect(ctx, conn); err != nil {
			s.Log.Infof("user %s rejected from lobby %s: %v", user.ID, lobbyUUID, err)
			switch {
			case errors.Is(err, lobby.ErrLobbyClosed), errors.Is(err, lobby.ErrForbidden):
				c.Close(CloseForbidden, err.Error())
			case errors.Is(err, lobby.ErrConflict):
				c.Close(websocket.StatusPolicyViolation, err.Error())
			default:
				c.Close(websocket.StatusInternalError, "connect failed")
			}
			return
		}
		s.Log.WithFields(logrus.Fields{
			"lobby_id": lobbyUUID,
			"user_id":  user.ID,
			"remote":   r.RemoteAddr,
		}).Info("websocket connected")
		s.mirrorPresence(lobbyUUID, user.ID, true)

		go writePump(ctx, c, conn, s.Log)
		s.readPump(ctx, c, coord, conn)

		coord.Disconnect(conn)
		s.mirrorPresence(lobbyUUID, user.ID, false)
		s.Log.WithFields(logrus.Fields{
			"lobby_id": lobbyUUID,
			"user_id":  user.ID,
		}).Info("websocket disconnected")
	}
}

// wsAuthenticate resolves the user from the cookie or the token query param.
func (s *Server) wsAuthenticate(r *http.Request) (*models.User, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		token = r.URL.Query().Get("token")
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
	return database.GetUserByID(r.Context(), userID)
}

// mirrorPresence updates the Redis presence set, best-effort.
func (s *Server) mirrorPresence(lobbyID, userID uuid.UUID, online bool) {
	if cache.Rdb == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if online {
			err = cache.AddPresence(ctx, lobbyID, userID)
		} else {
			err = cache.RemovePresence(ctx, lobbyID, userID)
		}
		if err != nil {
			s.Log.Warnf("presence mirror update failed for lobby %s: %v", lobbyID, err)
		}
	}()
}

// readPump consumes inbound frames until the connection dies or its context
// is cancelled (which a kick, ban, supersede, or close all trigger).
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, coord *lobby.Coordinator, conn *lobby.Conn) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return
			}
			if strings.Contains(err.Error(), "context canceled") {
				return
			}
			s.Log.Infof("lobby %s: read error for user %s: %v", coord.LobbyID, conn.UserID, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(data, &packet); err != nil {
			conn.WriteError("invalid JSON")
			continue
		}
		s.handleFrame(ctx, coord, conn, packet)
	}
}

// handleFrame dispatches one inbound frame.
func (s *Server) handleFrame(ctx context.Context, coord *lobby.Coordinator, conn *lobby.Conn, packet map[string]interface{}) {
	frameType, _ := packet["type"].(string)
	switch frameType {
	case lobby.FrameChatMessage:
		content, _ := packet["message"].(string)
		if _, err := coord.HandleChat(ctx, conn, content); err != nil {
			switch {
			case errors.Is(err, lobby.ErrRateLimited):
				conn.Write(map[string]interface{}{
					"type":    lobby.FrameRateLimited,
					"message": "rate limit exceeded, slow down",
				})
			case errors.Is(err, lobby.ErrPersistence):
				conn.WriteError("failed to save message")
			case errors.Is(err, lobby.ErrConflict):
				conn.WriteError("message must be 1-2000 characters")
			default:
				conn.WriteError(err.Error())
			}
		}
	case lobby.FrameTypingStart:
		if err := coord.HandleTyping(conn, true); err != nil {
			conn.WriteError(err.Error())
		}
	case lobby.FrameTypingStop:
		if err := coord.HandleTyping(conn, false); err != nil {
			conn.WriteError(err.Error())
		}
	default:
		conn.WriteError("unknown message type")
	}
}

// writePump drains OutChan onto the socket and pings on an interval. Exits
// when the channel closes (the core dropped the connection) or the context
// is cancelled; either way the socket gets a close frame.
func writePump(ctx context.Context, c *websocket.Conn, conn *lobby.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				// The core dropped this connection (kick, ban, supersede,
				// or lobby close), so the client gets the forbidden code.
				c.Close(CloseForbidden, "removed by server")
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing frame for user %s: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Infof("failed to write to websocket for user %s: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Infof("ping failed for user %s, assuming disconnect: %v", conn.UserID, err)
				return
			}
		}
	}
}
