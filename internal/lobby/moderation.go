package lobby

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openpark/lobbyd/internal/models"
	"github.com/openpark/lobbyd/internal/ratelimit"
)

// Moderation actions. Each runs as one critical section spanning the
// membership table, the connection registry, and the broadcaster, so no
// observer ever sees a half-applied state. Store writes happen before the
// in-memory mutation: a persistence failure aborts the action with no
// membership or connection change and no broadcast.

// Kick removes target from the lobby and force-closes their connection.
// Owners may kick anyone but themselves; moderators only plain members.
func (c *Coordinator) Kick(ctx context.Context, actorID, targetID uuid.UUID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	actorRole, targetRole, err := c.moderationRolesUnsafe(actorID, targetID)
	if err != nil {
		return err
	}
	if !canModerate(actorRole, targetRole) {
		return ErrForbidden
	}

	if err := c.store.DeleteMembership(ctx, c.LobbyID, targetID); err != nil {
		return persistenceErr(err)
	}
	targetName := c.memberNameUnsafe(targetID)
	if err := c.members.Leave(targetID); err != nil {
		return err
	}

	c.bcast.Broadcast(map[string]interface{}{
		"type":            FrameModerationKick,
		"target_id":       targetID.String(),
		"target_username": targetName,
		"actor_id":        actorID.String(),
		"reason":          reason,
	}, uuid.Nil)
	c.dropConnectionUnsafe(targetID)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventKick,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: fmt.Sprintf("%s kicked from lobby", targetName),
		Metadata:    map[string]interface{}{"reason": reason},
	})
	return nil
}

// Ban records the ban and the membership removal in one store transaction,
// then force-closes the connection. If the store write fails, the whole
// action aborts with no membership or connection change. Banning an
// already-banned non-member is idempotent.
func (c *Coordinator) Ban(ctx context.Context, actorID, targetID uuid.UUID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return err
	}
	actorRole, ok := c.members.Role(actorID)
	if !ok || !isStaff(actorRole) {
		return ErrForbidden
	}
	if c.members.IsBanned(targetID) {
		// Second ban of the same target: post-state already equals the
		// first ban's, nothing to do.
		return nil
	}
	// A non-member can be banned preemptively; a member target follows the
	// same role asymmetry as kick.
	targetRole, isMember := c.members.Role(targetID)
	if isMember && !canModerate(actorRole, targetRole) {
		return ErrForbidden
	}

	ban := models.Ban{
		LobbyID:   c.LobbyID,
		UserID:    targetID,
		Reason:    reason,
		BannedBy:  actorID,
		CreatedAt: time.Now().UTC(),
	}
	// The store removes the membership row inside the same transaction.
	if err := c.store.RecordBan(ctx, ban); err != nil {
		return persistenceErr(err)
	}

	targetName := c.memberNameUnsafe(targetID)
	c.members.Ban(ban)
	if isMember {
		if err := c.members.Leave(targetID); err != nil {
			return err
		}
	}

	c.bcast.Broadcast(map[string]interface{}{
		"type":            FrameModerationBan,
		"target_id":       targetID.String(),
		"target_username": targetName,
		"actor_id":        actorID.String(),
		"reason":          reason,
	}, uuid.Nil)
	c.dropConnectionUnsafe(targetID)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventBan,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: fmt.Sprintf("%s banned from lobby", targetName),
		Metadata:    map[string]interface{}{"reason": reason},
	})
	return nil
}

// Unban lifts a ban. Idempotent: unbanning a user who is not banned
// succeeds as a no-op.
func (c *Coordinator) Unban(ctx context.Context, actorID, targetID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return err
	}
	actorRole, ok := c.members.Role(actorID)
	if !ok || !isStaff(actorRole) {
		return ErrForbidden
	}
	if !c.members.IsBanned(targetID) {
		return nil
	}
	if err := c.store.DeleteBan(ctx, c.LobbyID, targetID); err != nil {
		return persistenceErr(err)
	}
	c.members.Unban(targetID)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventUnban,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: "user unbanned from lobby",
	})
	return nil
}

// AddModerator promotes a member to moderator. Owner only.
func (c *Coordinator) AddModerator(ctx context.Context, actorID, targetID uuid.UUID) error {
	return c.setModerator(ctx, actorID, targetID, true)
}

// RemoveModerator demotes a moderator back to member. Owner only.
func (c *Coordinator) RemoveModerator(ctx context.Context, actorID, targetID uuid.UUID) error {
	return c.setModerator(ctx, actorID, targetID, false)
}

func (c *Coordinator) setModerator(ctx context.Context, actorID, targetID uuid.UUID, promote bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return err
	}
	if err := c.requireOwnerUnsafe(actorID); err != nil {
		return err
	}
	targetRole, ok := c.members.Role(targetID)
	if !ok {
		return ErrTargetNotMember
	}

	var newRole models.Role
	var eventType string
	if promote {
		if targetRole != models.RoleMember {
			return ErrConflict
		}
		newRole, eventType = models.RoleModerator, models.EventModAdd
	} else {
		if targetRole != models.RoleModerator {
			return ErrConflict
		}
		newRole, eventType = models.RoleMember, models.EventModRemove
	}

	if err := c.store.UpdateMembershipRole(ctx, c.LobbyID, targetID, newRole); err != nil {
		return persistenceErr(err)
	}
	if err := c.members.SetRole(targetID, newRole); err != nil {
		return err
	}

	c.bcast.Broadcast(map[string]interface{}{
		"type":     FrameRoleChanged,
		"user_id":  targetID.String(),
		"username": c.memberNameUnsafe(targetID),
		"role":     string(newRole),
		"actor_id": actorID.String(),
	}, uuid.Nil)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   eventType,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: fmt.Sprintf("role changed to %s", newRole),
	})
	return nil
}

// TransferOwnership makes target the owner and demotes the current owner to
// member, atomically. Current-owner only; target must be an existing member.
func (c *Coordinator) TransferOwnership(ctx context.Context, actorID, targetID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return err
	}
	if err := c.requireOwnerUnsafe(actorID); err != nil {
		return err
	}
	if _, ok := c.members.Role(targetID); !ok {
		return ErrTargetNotMember
	}
	if actorID == targetID {
		return ErrConflict
	}

	if err := c.store.TransferOwnership(ctx, c.LobbyID, actorID, targetID); err != nil {
		return persistenceErr(err)
	}
	if err := c.members.TransferOwnership(actorID, targetID); err != nil {
		return err
	}

	c.bcast.Broadcast(map[string]interface{}{
		"type":         FrameOwnershipTransferred,
		"new_owner_id": targetID.String(),
		"old_owner_id": actorID.String(),
	}, uuid.Nil)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventTransfer,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: "ownership transferred",
	})
	return nil
}

// StartGame transitions open -> in_game. Owner only.
func (c *Coordinator) StartGame(ctx context.Context, actorID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenUnsafe(); err != nil {
		return err
	}
	if err := c.requireOwnerUnsafe(actorID); err != nil {
		return err
	}
	lobby := c.members.Lobby()
	if lobby.Status != models.LobbyOpen {
		return ErrLobbyNotOpen
	}

	if err := c.store.SetLobbyStatus(ctx, c.LobbyID, models.LobbyInGame); err != nil {
		return persistenceErr(err)
	}
	lobby.Status = models.LobbyInGame

	c.bcast.Broadcast(map[string]interface{}{
		"type":     FrameGameStarted,
		"actor_id": actorID.String(),
	}, uuid.Nil)

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventStatusChange,
		ActorID:     actorID,
		Description: "game started",
		Metadata:    map[string]interface{}{"status": string(models.LobbyInGame)},
	})
	return nil
}

// Close transitions the lobby to closed, a terminal state. Owner only. All
// connections are force-terminated after a final lobby_closed broadcast.
func (c *Coordinator) Close(ctx context.Context, actorID uuid.UUID) error {
	c.mu.Lock()

	lobby := c.members.Lobby()
	if lobby.Status == models.LobbyClosed {
		c.mu.Unlock()
		return ErrLobbyClosed
	}
	if err := c.requireOwnerUnsafe(actorID); err != nil {
		c.mu.Unlock()
		return err
	}

	if err := c.store.SetLobbyStatus(ctx, c.LobbyID, models.LobbyClosed); err != nil {
		c.mu.Unlock()
		return persistenceErr(err)
	}
	lobby.Status = models.LobbyClosed

	c.bcast.Broadcast(map[string]interface{}{
		"type":     FrameLobbyClosed,
		"actor_id": actorID.String(),
	}, uuid.Nil)
	for _, conn := range c.registry.List() {
		c.registry.Unregister(conn)
	}

	c.recordEventUnsafe(ctx, models.LobbyEvent{
		EventType:   models.EventStatusChange,
		ActorID:     actorID,
		Description: "lobby closed",
		Metadata:    map[string]interface{}{"status": string(models.LobbyClosed)},
	})

	onClosed := c.OnClosed
	c.mu.Unlock()

	if onClosed != nil {
		onClosed(c.LobbyID)
	}
	return nil
}

// moderationRolesUnsafe resolves actor and target roles for kick-style
// actions and applies the shared preconditions. Assumes the lock is held.
func (c *Coordinator) moderationRolesUnsafe(actorID, targetID uuid.UUID) (models.Role, models.Role, error) {
	if err := c.checkOpenUnsafe(); err != nil {
		return "", "", err
	}
	actorRole, ok := c.members.Role(actorID)
	if !ok || !isStaff(actorRole) {
		return "", "", ErrForbidden
	}
	targetRole, ok := c.members.Role(targetID)
	if !ok {
		return "", "", ErrTargetNotMember
	}
	return actorRole, targetRole, nil
}

// checkOpenUnsafe rejects any action against a closed lobby.
func (c *Coordinator) checkOpenUnsafe() error {
	if c.members.Lobby().Status == models.LobbyClosed {
		return ErrLobbyClosed
	}
	return nil
}

// requireOwnerUnsafe verifies actorID is the current owner.
func (c *Coordinator) requireOwnerUnsafe(actorID uuid.UUID) error {
	role, ok := c.members.Role(actorID)
	if !ok || role != models.RoleOwner {
		return ErrNotOwner
	}
	return nil
}

// memberNameUnsafe looks up a display name from the membership table or the
// live connection, falling back to the bare ID.
func (c *Coordinator) memberNameUnsafe(userID uuid.UUID) string {
	for _, m := range c.members.Members() {
		if m.UserID == userID {
			return m.Username
		}
	}
	if conn, ok := c.registry.Connection(userID); ok {
		return conn.Username
	}
	return userID.String()
}

// dropConnectionUnsafe force-closes a user's live connection if present.
// The limiter state goes with it.
func (c *Coordinator) dropConnectionUnsafe(userID uuid.UUID) {
	if conn, ok := c.registry.Connection(userID); ok {
		c.registry.Unregister(conn)
		c.limiter.Reset(ratelimit.Key(c.LobbyID, userID))
	}
}
