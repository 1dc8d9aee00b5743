package lobby

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session core. Handlers map these onto HTTP status
// codes and WebSocket close codes; everything else is treated as internal.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrLobbyClosed     = errors.New("lobby is closed")
	ErrPersistence     = errors.New("persistence failure")
)

// Conflict refinements. errors.Is(err, ErrConflict) holds for all of them.
var (
	ErrLobbyFull     = fmt.Errorf("%w: lobby is full", ErrConflict)
	ErrAlreadyMember = fmt.Errorf("%w: already in lobby", ErrConflict)
	ErrLobbyNotOpen  = fmt.Errorf("%w: lobby is not open", ErrConflict)
	ErrBanned        = fmt.Errorf("%w: banned from lobby", ErrForbidden)
)

// Forbidden refinements.
var (
	ErrNotOwner        = fmt.Errorf("%w: not the lobby owner", ErrForbidden)
	ErrTargetNotMember = fmt.Errorf("%w: target is not a member", ErrNotFound)
)

// persistenceErr wraps a store failure so callers can match ErrPersistence
// while logs retain the cause.
func persistenceErr(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
