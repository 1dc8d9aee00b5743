package lobby

import "github.com/openpark/lobbyd/internal/models"

// canModerate is the one place the owner/moderator asymmetry lives: an
// actor may act only on targets strictly below them, so the owner reaches
// anyone but themselves and a moderator only plain members. Every kick/ban
// path goes through this check.
func canModerate(actor, target models.Role) bool {
	return isStaff(actor) && actor.Outranks(target)
}

// isStaff reports whether a role may issue moderation actions at all.
func isStaff(role models.Role) bool {
	return role == models.RoleOwner || role == models.RoleModerator
}
