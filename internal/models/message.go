package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength caps chat message content.
const MaxMessageLength = 2000

// Message is a chat message in a lobby. Immutable once created except for
// the soft-delete tombstone; deleted messages are retained for audit and
// excluded from default listings.
type Message struct {
	ID        uuid.UUID `json:"id"`
	LobbyID   uuid.UUID `json:"lobby_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsDeleted bool      `json:"is_deleted"`
}

// LobbyEvent is an audit record for moderation and lifecycle actions.
type LobbyEvent struct {
	ID          uuid.UUID              `json:"id"`
	LobbyID     uuid.UUID              `json:"lobby_id"`
	EventType   string                 `json:"event_type"`
	ActorID     uuid.UUID              `json:"actor_id"`
	TargetID    uuid.UUID              `json:"target_id,omitempty"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Audit event types, matching the lobby_events table.
const (
	EventKick         = "kick"
	EventBan          = "ban"
	EventUnban        = "unban"
	EventTransfer     = "transfer"
	EventModAdd       = "mod_add"
	EventModRemove    = "mod_remove"
	EventStatusChange = "status_change"
)
