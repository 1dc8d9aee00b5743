package models

import (
	"time"

	"github.com/google/uuid"
)

// LobbyStatus is the lifecycle state of a lobby. Transitions are one-way:
// open -> in_game, and open|in_game -> closed. Closed is terminal.
type LobbyStatus string

const (
	LobbyOpen   LobbyStatus = "open"
	LobbyInGame LobbyStatus = "in_game"
	LobbyClosed LobbyStatus = "closed"
)

// Role is a user's role within one lobby. Exactly one membership per lobby
// holds RoleOwner at any time.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
)

// rank orders roles for permission comparisons.
var rank = map[Role]int{
	RoleMember:    0,
	RoleModerator: 1,
	RoleOwner:     2,
}

// Outranks reports whether r is strictly above other in the lobby hierarchy.
func (r Role) Outranks(other Role) bool {
	return rank[r] > rank[other]
}

// Lobby represents a row in the lobbies table.
type Lobby struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	IsPublic        bool        `json:"is_public"`
	Status          LobbyStatus `json:"status"`
	MaxParticipants int         `json:"max_participants"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Membership is the durable (lobby, user) -> role relationship. It survives
// disconnects; only an explicit leave or a moderation action removes it.
type Membership struct {
	LobbyID  uuid.UUID `json:"lobby_id"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Ban records a user barred from a lobby. A banned user cannot hold a
// membership or a live connection in that lobby.
type Ban struct {
	LobbyID   uuid.UUID `json:"lobby_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason"`
	BannedBy  uuid.UUID `json:"banned_by"`
	CreatedAt time.Time `json:"created_at"`
}
