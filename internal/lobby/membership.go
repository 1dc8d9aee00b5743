package lobby

import (
	"time"

	"github.com/google/uuid"
	"github.com/openpark/lobbyd/internal/models"
)

// MembershipTable is the authoritative in-memory role/ban state for one
// lobby, seeded from the store snapshot when the coordinator starts. All
// methods assume the coordinator's lock is held; the table itself has no
// lock, which is what makes the capacity check and the insert one critical
// section.
type MembershipTable struct {
	lobby   *models.Lobby
	members map[uuid.UUID]*models.Membership
	bans    map[uuid.UUID]models.Ban
}

func newMembershipTable(lobby *models.Lobby, memberships []models.Membership, bans []models.Ban) *MembershipTable {
	t := &MembershipTable{
		lobby:   lobby,
		members: make(map[uuid.UUID]*models.Membership, len(memberships)),
		bans:    make(map[uuid.UUID]models.Ban, len(bans)),
	}
	for i := range memberships {
		m := memberships[i]
		t.members[m.UserID] = &m
	}
	for _, b := range bans {
		t.bans[b.UserID] = b
	}
	return t
}

// CanJoin checks every admission rule without mutating anything: lifecycle
// state, ban list, duplicate membership, capacity.
func (t *MembershipTable) CanJoin(userID uuid.UUID) error {
	if t.lobby.Status == models.LobbyClosed {
		return ErrLobbyClosed
	}
	if t.lobby.Status != models.LobbyOpen {
		return ErrLobbyNotOpen
	}
	if _, banned := t.bans[userID]; banned {
		return ErrBanned
	}
	if _, member := t.members[userID]; member {
		return ErrAlreadyMember
	}
	if len(t.members) >= t.lobby.MaxParticipants {
		return ErrLobbyFull
	}
	return nil
}

// Join admits userID as a plain member. The re-check and the insert happen
// under the same lock, so two joins can never both pass the capacity check
// for the last slot.
func (t *MembershipTable) Join(userID uuid.UUID, username string) (*models.Membership, error) {
	if err := t.CanJoin(userID); err != nil {
		return nil, err
	}
	m := &models.Membership{
		LobbyID:  t.lobby.ID,
		UserID:   userID,
		Username: username,
		Role:     models.RoleMember,
		JoinedAt: time.Now().UTC(),
	}
	t.members[userID] = m
	return m, nil
}

// Leave removes userID's membership.
func (t *MembershipTable) Leave(userID uuid.UUID) error {
	if _, ok := t.members[userID]; !ok {
		return ErrTargetNotMember
	}
	delete(t.members, userID)
	return nil
}

// Role returns userID's role, if they are a member.
func (t *MembershipTable) Role(userID uuid.UUID) (models.Role, bool) {
	m, ok := t.members[userID]
	if !ok {
		return "", false
	}
	return m.Role, true
}

// SetRole changes userID's role in place.
func (t *MembershipTable) SetRole(userID uuid.UUID, role models.Role) error {
	m, ok := t.members[userID]
	if !ok {
		return ErrTargetNotMember
	}
	m.Role = role
	return nil
}

// TransferOwnership atomically swaps roles so there is never a window with
// zero or two owners: from becomes a member, to becomes the owner, and the
// lobby's owner field follows. Rejected without side effects if from is not
// the current owner or to is not a member.
func (t *MembershipTable) TransferOwnership(from, to uuid.UUID) error {
	fromM, ok := t.members[from]
	if !ok || fromM.Role != models.RoleOwner || t.lobby.OwnerID != from {
		return ErrNotOwner
	}
	toM, ok := t.members[to]
	if !ok {
		return ErrTargetNotMember
	}
	fromM.Role = models.RoleMember
	toM.Role = models.RoleOwner
	t.lobby.OwnerID = to
	return nil
}

// Ban records a ban. Banned users must already have been removed from the
// member map by the caller.
func (t *MembershipTable) Ban(b models.Ban) {
	t.bans[b.UserID] = b
}

// Unban removes a ban record. Returns false if the user was not banned,
// which callers treat as a successful no-op.
func (t *MembershipTable) Unban(userID uuid.UUID) bool {
	if _, ok := t.bans[userID]; !ok {
		return false
	}
	delete(t.bans, userID)
	return true
}

// IsBanned reports whether userID is banned from this lobby.
func (t *MembershipTable) IsBanned(userID uuid.UUID) bool {
	_, ok := t.bans[userID]
	return ok
}

// Members snapshots the current membership rows.
func (t *MembershipTable) Members() []models.Membership {
	out := make([]models.Membership, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	return out
}

// Count is the number of members, connected or not.
func (t *MembershipTable) Count() int {
	return len(t.members)
}

// Lobby exposes the lobby row the table guards.
func (t *MembershipTable) Lobby() *models.Lobby {
	return t.lobby
}
