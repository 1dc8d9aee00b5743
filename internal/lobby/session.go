package lobby

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/models"
	"github.com/openpark/lobbyd/internal/ratelimit"
)

// Store is the durable persistence boundary the coordinator depends on.
// Implemented by internal/database against Postgres; tests substitute fakes.
// Every call is treated as fallible and possibly slow.
type Store interface {
	LoadLobby(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error)
	LoadMemberships(ctx context.Context, lobbyID uuid.UUID) ([]models.Membership, error)
	LoadBans(ctx context.Context, lobbyID uuid.UUID) ([]models.Ban, error)

	InsertMembership(ctx context.Context, m models.Membership) error
	DeleteMembership(ctx context.Context, lobbyID, userID uuid.UUID) error
	UpdateMembershipRole(ctx context.Context, lobbyID, userID uuid.UUID, role models.Role) error
	// TransferOwnership updates the lobby's owner and both membership roles
	// in one transaction, so durable state never holds zero or two owners.
	TransferOwnership(ctx context.Context, lobbyID, from, to uuid.UUID) error
	SetLobbyStatus(ctx context.Context, lobbyID uuid.UUID, status models.LobbyStatus) error
	UpdateLobbySettings(ctx context.Context, lobbyID uuid.UUID, name string, isPublic bool, maxParticipants int) error

	RecordBan(ctx context.Context, b models.Ban) error
	DeleteBan(ctx context.Context, lobbyID, userID uuid.UUID) error

	AppendMessage(ctx context.Context, m *models.Message) error
	AppendEvent(ctx context.Context, ev models.LobbyEvent) error
}

// AuditSink receives moderation/lifecycle events for out-of-band consumers.
// Publishing is best-effort; a failure is logged and never fails the action.
type AuditSink interface {
	Publish(ctx context.Context, ev models.LobbyEvent) error
}

// Coordinator is the per-lobby serialization point. All events for one lobby
// (connect, chat, typing, moderation, disconnect) run under its mutex, one
// at a time, which is what makes the composite invariants enforceable
// without locking protocols inside the sub-components. Different lobbies
// have different coordinators and proceed independently.
type Coordinator struct {
	LobbyID uuid.UUID

	mu       sync.Mutex
	members  *MembershipTable
	registry *ConnectionRegistry
	bcast    *Broadcaster
	limiter  *ratelimit.Limiter

	store Store
	audit AuditSink
	log   *logrus.Logger

	// OnClosed is called after the lobby transitions to closed, so the
	// manager can drop this coordinator.
	OnClosed func(lobbyID uuid.UUID)
}

// NewCoordinator builds a coordinator around a lobby snapshot.
func NewCoordinator(lobby *models.Lobby, memberships []models.Membership, bans []models.Ban, store Store, audit AuditSink, log *logrus.Logger) *Coordinator {
	registry := newConnectionRegistry()
	return &Coordinator{
		LobbyID:  lobby.ID,
		members:  newMembershipTable(lobby, memberships, bans),
		registry: registry,
		bcast:    newBroadcaster(lobby.ID, registry, log),
		limiter:  ratelimit.New(ratelimit.DefaultBurst, ratelimit.DefaultWindow),
		store:    store,
		audit:    audit,
		log:      log,
	}
}

// Connect admits conn's user into the live session. A first-time user gets
// a membership row (persisted before the in-memory insert commits); a
// returning member just reconnects. A second connection for the same user
// supersedes the first: last-connection-wins, the policy this codebase
// commits to for duplicate logins.
func (c *Coordinator) Connect(ctx context.Context, conn *Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.members.Lobby().Status == models.LobbyClosed {
		return ErrLobbyClosed
	}
	// Checked even for existing members: a snapshot that holds both a ban
	// and a membership must never yield a live connection.
	if c.members.IsBanned(conn.UserID) {
		return ErrBanned
	}

	_, isMember := c.members.Role(conn.UserID)
	if !isMember {
		if err := c.members.CanJoin(conn.UserID); err != nil {
			return err
		}
		m := models.Membership{
			LobbyID:  c.LobbyID,
			UserID:   conn.UserID,
			Username: conn.Username,
			Role:     models.RoleMember,
			JoinedAt: time.Now().UTC(),
		}
		if err := c.store.InsertMembership(ctx, m); err != nil {
			return persistenceErr(err)
		}
		if _, err := c.members.Join(conn.UserID, conn.Username); err != nil {
			// CanJoin passed under this same lock, so this cannot happen.
			return err
		}
	}

	superseded := c.registry.Register(conn)
	if superseded != nil {
		c.limiter.Reset(ratelimit.Key(c.LobbyID, conn.UserID))
		c.bcast.Broadcast(c.presenceFrame(FramePresenceLeave, superseded), conn.UserID)
	} else {
		c.bcast.Broadcast(c.presenceFrame(FramePresenceJoin, conn), conn.UserID)
	}

	conn.Write(c.rosterFrameUnsafe())
	return nil
}

// Disconnect tears down conn's live presence. Idempotent, and a no-op for a
// connection already superseded by a newer one, so the superseded socket's
// read pump exiting cannot knock out the replacement. Membership is kept:
// users stay lobby members while offline.
func (c *Coordinator) Disconnect(conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registry.Unregister(conn) {
		return
	}
	c.limiter.Reset(ratelimit.Key(c.LobbyID, conn.UserID))
	c.bcast.Broadcast(c.presenceFrame(FramePresenceLeave, conn), uuid.Nil)
}

// HandleChat processes an inbound chat message: membership check, rate
// limit, persist, then broadcast. A rate-limit rejection is reported to the
// sender only. If the append fails the message is not broadcast and the
// rate-limit consumption is not refunded; the attempt counts against quota.
func (c *Coordinator) HandleChat(ctx context.Context, conn *Conn, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrConflict
	}
	if len(content) > models.MaxMessageLength {
		return nil, ErrConflict
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.members.Lobby().Status == models.LobbyClosed {
		return nil, ErrLobbyClosed
	}
	if _, ok := c.members.Role(conn.UserID); !ok {
		return nil, ErrForbidden
	}
	if current, ok := c.registry.Connection(conn.UserID); !ok || current != conn {
		return nil, ErrForbidden
	}

	if !c.limiter.Allow(ratelimit.Key(c.LobbyID, conn.UserID), time.Now()) {
		return nil, ErrRateLimited
	}

	msg := &models.Message{
		ID:        uuid.New(),
		LobbyID:   c.LobbyID,
		SenderID:  conn.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return nil, persistenceErr(err)
	}

	c.bcast.Broadcast(map[string]interface{}{
		"type": FrameMessageNew,
		"message": map[string]interface{}{
			"id":         msg.ID.String(),
			"content":    msg.Content,
			"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
			"sender": map[string]interface{}{
				"id":         conn.UserID.String(),
				"username":   conn.Username,
				"is_premium": conn.IsPremium,
			},
		},
	}, uuid.Nil)

	return msg, nil
}

// HandleTyping fans a typing indicator out to everyone but the sender.
func (c *Coordinator) HandleTyping(conn *Conn, start bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members.Role(conn.UserID); !ok {
		return ErrForbidden
	}
	frame := FrameTypingStop
	if start {
		frame = FrameTypingStart
	}
	c.bcast.Broadcast(map[string]interface{}{
		"type":     frame,
		"user_id":  conn.UserID.String(),
		"username": conn.Username,
	}, conn.UserID)
	return nil
}

// Join admits userID as a member without a live connection (the REST join
// path). The WebSocket connect for an existing member then just registers.
func (c *Coordinator) Join(ctx context.Context, userID uuid.UUID, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.members.CanJoin(userID); err != nil {
		return err
	}
	m := models.Membership{
		LobbyID:  c.LobbyID,
		UserID:   userID,
		Username: username,
		Role:     models.RoleMember,
		JoinedAt: time.Now().UTC(),
	}
	if err := c.store.InsertMembership(ctx, m); err != nil {
		return persistenceErr(err)
	}
	_, err := c.members.Join(userID, username)
	return err
}

// Leave removes userID's membership on their own request. The owner cannot
// leave; ownership must be transferred first. Closes any live connection
// and announces the departure.
func (c *Coordinator) Leave(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	role, ok := c.members.Role(userID)
	if !ok {
		return ErrTargetNotMember
	}
	if role == models.RoleOwner {
		return ErrNotOwner
	}
	if err := c.store.DeleteMembership(ctx, c.LobbyID, userID); err != nil {
		return persistenceErr(err)
	}
	if err := c.members.Leave(userID); err != nil {
		return err
	}
	if conn, connected := c.registry.Connection(userID); connected {
		c.registry.Unregister(conn)
		c.limiter.Reset(ratelimit.Key(c.LobbyID, userID))
		c.bcast.Broadcast(c.presenceFrame(FramePresenceLeave, conn), uuid.Nil)
	}
	return nil
}

// SettingsPatch carries owner-editable lobby settings; nil fields are left
// unchanged.
type SettingsPatch struct {
	Name            *string
	IsPublic        *bool
	MaxParticipants *int
}

// UpdateSettings applies a settings patch. Owner only. Shrinking capacity
// below the current member count is rejected rather than evicting anyone.
func (c *Coordinator) UpdateSettings(ctx context.Context, actorID uuid.UUID, patch SettingsPatch) (models.Lobby, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return models.Lobby{}, err
	}
	if err := c.requireOwnerUnsafe(actorID); err != nil {
		return models.Lobby{}, err
	}

	lobbyRow := c.members.Lobby()
	name := lobbyRow.Name
	isPublic := lobbyRow.IsPublic
	capacity := lobbyRow.MaxParticipants
	if patch.Name != nil && *patch.Name != "" {
		name = *patch.Name
	}
	if patch.IsPublic != nil {
		isPublic = *patch.IsPublic
	}
	if patch.MaxParticipants != nil {
		if *patch.MaxParticipants < c.members.Count() {
			return models.Lobby{}, ErrConflict
		}
		capacity = *patch.MaxParticipants
	}

	if err := c.store.UpdateLobbySettings(ctx, c.LobbyID, name, isPublic, capacity); err != nil {
		return models.Lobby{}, persistenceErr(err)
	}
	lobbyRow.Name = name
	lobbyRow.IsPublic = isPublic
	lobbyRow.MaxParticipants = capacity
	return *lobbyRow, nil
}

// Snapshot returns copies of the lobby row and membership rows for the
// read-side API.
func (c *Coordinator) Snapshot() (models.Lobby, []models.Membership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.members.Lobby(), c.members.Members()
}

// RoleOf returns userID's role, if they are a member.
func (c *Coordinator) RoleOf(userID uuid.UUID) (models.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members.Role(userID)
}

// ConnectedCount is the number of live connections.
func (c *Coordinator) ConnectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Len()
}

// presenceFrame builds a join/leave frame for one connection.
func (c *Coordinator) presenceFrame(frame string, conn *Conn) map[string]interface{} {
	msg := map[string]interface{}{
		"type":     frame,
		"user_id":  conn.UserID.String(),
		"username": conn.Username,
	}
	if frame == FramePresenceJoin {
		msg["is_premium"] = conn.IsPremium
	}
	return msg
}

// rosterFrameUnsafe builds the presence_list frame sent to a newly
// registered connection. Assumes the lock is held.
func (c *Coordinator) rosterFrameUnsafe() map[string]interface{} {
	users := []map[string]interface{}{}
	for _, conn := range c.registry.List() {
		role, _ := c.members.Role(conn.UserID)
		users = append(users, map[string]interface{}{
			"id":         conn.UserID.String(),
			"username":   conn.Username,
			"is_premium": conn.IsPremium,
			"role":       string(role),
		})
	}
	return map[string]interface{}{
		"type":  FramePresenceList,
		"users": users,
	}
}

// recordEventUnsafe writes the audit trail for a completed action: the
// lobby_events row and the out-of-band queue. Both are best-effort and never
// fail the action that produced them. Assumes the lock is held.
func (c *Coordinator) recordEventUnsafe(ctx context.Context, ev models.LobbyEvent) {
	ev.ID = uuid.New()
	ev.LobbyID = c.LobbyID
	ev.CreatedAt = time.Now().UTC()

	if err := c.store.AppendEvent(ctx, ev); err != nil {
		c.log.WithFields(logrus.Fields{"lobby_id": c.LobbyID, "event": ev.EventType}).
			Warnf("failed to append lobby event: %v", err)
	}
	if c.audit != nil {
		if err := c.audit.Publish(ctx, ev); err != nil {
			c.log.WithFields(logrus.Fields{"lobby_id": c.LobbyID, "event": ev.EventType}).
				Warnf("failed to publish audit event: %v", err)
		}
	}
}
