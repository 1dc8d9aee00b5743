package lobby

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/models"
)

// Manager tracks the live coordinators, one per lobby. Its mutex only guards
// the map; snapshot loads and all event processing happen outside it, so no
// lock ever spans two lobbies.
type Manager struct {
	mu     sync.Mutex
	coords map[uuid.UUID]*Coordinator

	store Store
	audit AuditSink
	log   *logrus.Logger
}

// NewManager returns an empty Manager.
func NewManager(store Store, audit AuditSink, log *logrus.Logger) *Manager {
	return &Manager{
		coords: make(map[uuid.UUID]*Coordinator),
		store:  store,
		audit:  audit,
		log:    log,
	}
}

// Get returns the coordinator for lobbyID, starting one from a store
// snapshot on first touch. Returns ErrNotFound for an unknown lobby and
// ErrLobbyClosed for a closed one.
func (m *Manager) Get(ctx context.Context, lobbyID uuid.UUID) (*Coordinator, error) {
	m.mu.Lock()
	if c, ok := m.coords[lobbyID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	// Load outside the lock so a slow snapshot never stalls other lobbies.
	lobbyRow, err := m.store.LoadLobby(ctx, lobbyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, persistenceErr(err)
	}
	if lobbyRow.Status == models.LobbyClosed {
		return nil, ErrLobbyClosed
	}
	memberships, err := m.store.LoadMemberships(ctx, lobbyID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	bans, err := m.store.LoadBans(ctx, lobbyID)
	if err != nil {
		return nil, persistenceErr(err)
	}

	c := NewCoordinator(lobbyRow, memberships, bans, m.store, m.audit, m.log)
	c.OnClosed = m.Remove

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.coords[lobbyID]; ok {
		// Lost the race to another first-toucher; use the winner.
		return existing, nil
	}
	m.coords[lobbyID] = c
	m.log.WithField("lobby_id", lobbyID).Info("coordinator started")
	return c, nil
}

// Add installs a coordinator for a freshly created lobby, skipping the
// snapshot load.
func (m *Manager) Add(lobbyRow *models.Lobby, owner models.Membership) *Coordinator {
	c := NewCoordinator(lobbyRow, []models.Membership{owner}, nil, m.store, m.audit, m.log)
	c.OnClosed = m.Remove

	m.mu.Lock()
	defer m.mu.Unlock()
	m.coords[lobbyRow.ID] = c
	return c
}

// Remove drops the coordinator for lobbyID, typically after close.
func (m *Manager) Remove(lobbyID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coords[lobbyID]; ok {
		delete(m.coords, lobbyID)
		m.log.WithField("lobby_id", lobbyID).Info("coordinator stopped")
	}
}

// Peek returns the coordinator if it is already live, without loading.
func (m *Manager) Peek(lobbyID uuid.UUID) (*Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coords[lobbyID]
	return c, ok
}
