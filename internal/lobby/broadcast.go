package lobby

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Outbound frame types.
const (
	FrameMessageNew           = "message_new"
	FramePresenceList         = "presence_list"
	FramePresenceJoin         = "presence_join"
	FramePresenceLeave        = "presence_leave"
	FrameTypingStart          = "typing_start"
	FrameTypingStop           = "typing_stop"
	FrameModerationKick       = "moderation_kick"
	FrameModerationBan        = "moderation_ban"
	FrameRoleChanged          = "role_changed"
	FrameOwnershipTransferred = "ownership_transferred"
	FrameLobbyClosed          = "lobby_closed"
	FrameGameStarted          = "game_started"
	FrameRateLimited          = "rate_limited"
	FrameError                = "error"
)

// Inbound frame types.
const (
	FrameChatMessage = "chat_message"
)

// Broadcaster fans frames out to every live connection in one lobby,
// best-effort. Methods assume the coordinator's lock is held. Conn.Write is
// non-blocking, so fan-out is bounded work regardless of slow clients.
type Broadcaster struct {
	lobbyID  uuid.UUID
	registry *ConnectionRegistry
	log      *logrus.Logger
}

func newBroadcaster(lobbyID uuid.UUID, registry *ConnectionRegistry, log *logrus.Logger) *Broadcaster {
	return &Broadcaster{lobbyID: lobbyID, registry: registry, log: log}
}

// Broadcast delivers msg to every registered connection except exclude
// (uuid.Nil excludes nobody). A failed send is logged and unregisters that
// one connection; delivery to the remaining connections always continues.
func (b *Broadcaster) Broadcast(msg map[string]interface{}, exclude uuid.UUID) {
	for _, conn := range b.registry.List() {
		if conn.UserID == exclude {
			continue
		}
		if !conn.Write(msg) {
			msgType, _ := msg["type"].(string)
			b.log.WithFields(logrus.Fields{
				"lobby_id": b.lobbyID,
				"user_id":  conn.UserID,
				"frame":    msgType,
			}).Warn("send failed, dropping connection")
			b.registry.Unregister(conn)
		}
	}
}

// SendTo delivers msg to a single user if they are connected.
func (b *Broadcaster) SendTo(userID uuid.UUID, msg map[string]interface{}) {
	if conn, ok := b.registry.Connection(userID); ok {
		conn.Write(msg)
	}
}
