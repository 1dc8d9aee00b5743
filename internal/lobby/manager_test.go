package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpark/lobbyd/internal/models"
)

// loadableStore backs a Manager with in-memory lobby snapshots.
type loadableStore struct {
	fakeStore
	lobbies map[uuid.UUID]*models.Lobby
	rosters map[uuid.UUID][]models.Membership
}

func (s *loadableStore) LoadLobby(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error) {
	l, ok := s.lobbies[lobbyID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	row := *l
	return &row, nil
}

func (s *loadableStore) LoadMemberships(ctx context.Context, lobbyID uuid.UUID) ([]models.Membership, error) {
	return s.rosters[lobbyID], nil
}

func newLoadableStore() *loadableStore {
	return &loadableStore{
		fakeStore: *newFakeStore(),
		lobbies:   make(map[uuid.UUID]*models.Lobby),
		rosters:   make(map[uuid.UUID][]models.Membership),
	}
}

func (s *loadableStore) seed(status models.LobbyStatus) (*models.Lobby, uuid.UUID) {
	ownerID := uuid.New()
	l := &models.Lobby{
		ID:              uuid.New(),
		Name:            "seeded",
		OwnerID:         ownerID,
		IsPublic:        true,
		Status:          status,
		MaxParticipants: 8,
		CreatedAt:       time.Now().UTC(),
	}
	s.lobbies[l.ID] = l
	s.rosters[l.ID] = []models.Membership{{
		LobbyID: l.ID, UserID: ownerID, Username: "owner", Role: models.RoleOwner,
	}}
	return l, ownerID
}

func TestManagerGetStartsAndCaches(t *testing.T) {
	store := newLoadableStore()
	l, _ := store.seed(models.LobbyOpen)
	m := NewManager(store, nil, testLogger())

	c1, err := m.Get(context.Background(), l.ID)
	require.NoError(t, err)
	c2, err := m.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestManagerGetUnknownLobby(t *testing.T) {
	m := NewManager(newLoadableStore(), nil, testLogger())
	_, err := m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerGetClosedLobby(t *testing.T) {
	store := newLoadableStore()
	l, _ := store.seed(models.LobbyClosed)
	m := NewManager(store, nil, testLogger())

	_, err := m.Get(context.Background(), l.ID)
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestManagerDropsCoordinatorOnClose(t *testing.T) {
	store := newLoadableStore()
	l, ownerID := store.seed(models.LobbyOpen)
	m := NewManager(store, nil, testLogger())

	c, err := m.Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background(), ownerID))

	_, live := m.Peek(l.ID)
	assert.False(t, live)

	// The closed row stays in the store, so a re-get reports closed.
	store.lobbies[l.ID].Status = models.LobbyClosed
	_, err = m.Get(context.Background(), l.ID)
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestManagerLobbiesAreIndependent(t *testing.T) {
	store := newLoadableStore()
	l1, owner1 := store.seed(models.LobbyOpen)
	l2, _ := store.seed(models.LobbyOpen)
	m := NewManager(store, nil, testLogger())

	c1, err := m.Get(context.Background(), l1.ID)
	require.NoError(t, err)
	c2, err := m.Get(context.Background(), l2.ID)
	require.NoError(t, err)

	require.NoError(t, c1.Close(context.Background(), owner1))

	// Closing one lobby leaves the other untouched.
	row, _ := c2.Snapshot()
	assert.Equal(t, models.LobbyOpen, row.Status)
	_, live := m.Peek(l2.ID)
	assert.True(t, live)
}
