package lobby

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpark/lobbyd/internal/models"
)

// fakeStore records writes and can be flipped into a failing mode to
// exercise persistence-failure handling.
type fakeStore struct {
	mu sync.Mutex

	failWrites bool

	inserted     []models.Membership
	deleted      []uuid.UUID
	roleUpdates  map[uuid.UUID]models.Role
	ownerUpdates []uuid.UUID
	statuses     []models.LobbyStatus
	bans         []models.Ban
	unbans       []uuid.UUID
	messages     []models.Message
	events       []models.LobbyEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{roleUpdates: make(map[uuid.UUID]models.Role)}
}

var errStoreDown = errors.New("store down")

func (s *fakeStore) writeErr() error {
	if s.failWrites {
		return errStoreDown
	}
	return nil
}

func (s *fakeStore) LoadLobby(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error) {
	return nil, errStoreDown
}

func (s *fakeStore) LoadMemberships(ctx context.Context, lobbyID uuid.UUID) ([]models.Membership, error) {
	return nil, nil
}

func (s *fakeStore) LoadBans(ctx context.Context, lobbyID uuid.UUID) ([]models.Ban, error) {
	return nil, nil
}

func (s *fakeStore) InsertMembership(ctx context.Context, m models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.inserted = append(s.inserted, m)
	return nil
}

func (s *fakeStore) DeleteMembership(ctx context.Context, lobbyID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.deleted = append(s.deleted, userID)
	return nil
}

func (s *fakeStore) UpdateMembershipRole(ctx context.Context, lobbyID, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.roleUpdates[userID] = role
	return nil
}

func (s *fakeStore) TransferOwnership(ctx context.Context, lobbyID, from, to uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.ownerUpdates = append(s.ownerUpdates, to)
	s.roleUpdates[from] = models.RoleMember
	s.roleUpdates[to] = models.RoleOwner
	return nil
}

func (s *fakeStore) SetLobbyStatus(ctx context.Context, lobbyID uuid.UUID, status models.LobbyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateLobbySettings(ctx context.Context, lobbyID uuid.UUID, name string, isPublic bool, maxParticipants int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr()
}

func (s *fakeStore) RecordBan(ctx context.Context, b models.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.bans = append(s.bans, b)
	return nil
}

func (s *fakeStore) DeleteBan(ctx context.Context, lobbyID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.unbans = append(s.unbans, userID)
	return nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, ev models.LobbyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr(); err != nil {
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

func (s *fakeStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType)
	}
	return out
}

// fakeAudit records published events.
type fakeAudit struct {
	mu     sync.Mutex
	events []models.LobbyEvent
}

func (a *fakeAudit) Publish(ctx context.Context, ev models.LobbyEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testSession bundles a coordinator, its fake store, and the pre-seeded
// owner for a fresh lobby.
type testSession struct {
	coord   *Coordinator
	store   *fakeStore
	audit   *fakeAudit
	ownerID uuid.UUID
}

func newTestSession(t *testing.T, maxParticipants int) *testSession {
	t.Helper()
	ownerID := uuid.New()
	lobbyRow := &models.Lobby{
		ID:              uuid.New(),
		Name:            "test lobby",
		OwnerID:         ownerID,
		IsPublic:        true,
		Status:          models.LobbyOpen,
		MaxParticipants: maxParticipants,
		CreatedAt:       time.Now().UTC(),
	}
	memberships := []models.Membership{{
		LobbyID:  lobbyRow.ID,
		UserID:   ownerID,
		Username: "owner",
		Role:     models.RoleOwner,
		JoinedAt: time.Now().UTC(),
	}}
	store := newFakeStore()
	audit := &fakeAudit{}
	coord := NewCoordinator(lobbyRow, memberships, nil, store, audit, testLogger())
	return &testSession{coord: coord, store: store, audit: audit, ownerID: ownerID}
}

// connect registers a live connection for userID, failing the test on error.
func (ts *testSession) connect(t *testing.T, userID uuid.UUID, username string) *Conn {
	t.Helper()
	conn := NewConn(userID, username, false, func() {})
	require.NoError(t, ts.coord.Connect(context.Background(), conn))
	return conn
}

// drain empties a connection's out channel.
func drain(conn *Conn) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg, ok := <-conn.OutChan:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func framesOfType(frames []map[string]interface{}, frameType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range frames {
		if f["type"] == frameType {
			out = append(out, f)
		}
	}
	return out
}

func TestConnectFirstTimePersistsMembership(t *testing.T) {
	ts := newTestSession(t, 8)
	ownerConn := ts.connect(t, ts.ownerID, "owner")
	drain(ownerConn)

	newUser := uuid.New()
	newConn := ts.connect(t, newUser, "alice")

	require.Len(t, ts.store.inserted, 1)
	assert.Equal(t, newUser, ts.store.inserted[0].UserID)
	assert.Equal(t, models.RoleMember, ts.store.inserted[0].Role)

	joins := framesOfType(drain(ownerConn), FramePresenceJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, "alice", joins[0]["username"])

	// The new connection gets the roster, not its own join echo.
	frames := drain(newConn)
	require.Len(t, framesOfType(frames, FramePresenceList), 1)
	assert.Empty(t, framesOfType(frames, FramePresenceJoin))
}

func TestConnectClosedLobbyRejected(t *testing.T) {
	ts := newTestSession(t, 8)
	ts.coord.members.Lobby().Status = models.LobbyClosed

	conn := NewConn(uuid.New(), "late", false, func() {})
	err := ts.coord.Connect(context.Background(), conn)
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

// A reload can hand the coordinator a snapshot where a user holds both a
// membership row and a ban row. The ban must win.
func TestConnectBannedMemberRejected(t *testing.T) {
	ownerID := uuid.New()
	bannedID := uuid.New()
	lobbyRow := &models.Lobby{
		ID:              uuid.New(),
		Name:            "test lobby",
		OwnerID:         ownerID,
		IsPublic:        true,
		Status:          models.LobbyOpen,
		MaxParticipants: 8,
		CreatedAt:       time.Now().UTC(),
	}
	memberships := []models.Membership{
		{LobbyID: lobbyRow.ID, UserID: ownerID, Username: "owner", Role: models.RoleOwner, JoinedAt: time.Now().UTC()},
		{LobbyID: lobbyRow.ID, UserID: bannedID, Username: "troll", Role: models.RoleMember, JoinedAt: time.Now().UTC()},
	}
	bans := []models.Ban{{LobbyID: lobbyRow.ID, UserID: bannedID, Reason: "abuse", BannedBy: ownerID, CreatedAt: time.Now().UTC()}}
	coord := NewCoordinator(lobbyRow, memberships, bans, newFakeStore(), &fakeAudit{}, testLogger())

	conn := NewConn(bannedID, "troll", false, func() {})
	assert.ErrorIs(t, coord.Connect(context.Background(), conn), ErrBanned)
	assert.Equal(t, 0, coord.ConnectedCount())
}

func TestConnectCapacityEnforced(t *testing.T) {
	ts := newTestSession(t, 2)
	ts.connect(t, ts.ownerID, "owner")
	ts.connect(t, uuid.New(), "second")

	third := NewConn(uuid.New(), "third", false, func() {})
	err := ts.coord.Connect(context.Background(), third)
	assert.ErrorIs(t, err, ErrLobbyFull)
	assert.ErrorIs(t, err, ErrConflict)

	lobbyRow, members := ts.coord.Snapshot()
	assert.Len(t, members, 2)
	assert.Equal(t, 2, lobbyRow.MaxParticipants)
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	ts := newTestSession(t, 8)
	observer := ts.connect(t, ts.ownerID, "owner")
	drain(observer)

	userID := uuid.New()
	first := ts.connect(t, userID, "alice")
	second := ts.connect(t, userID, "alice")

	// Old connection is closed; new one is current.
	assert.False(t, first.Write(map[string]interface{}{"type": "ping"}))
	current, ok := ts.coord.registry.Connection(userID)
	require.True(t, ok)
	assert.Same(t, second, current)

	// The observer saw exactly one join and one leave, not two joins.
	frames := drain(observer)
	assert.Len(t, framesOfType(frames, FramePresenceJoin), 1)
	assert.Len(t, framesOfType(frames, FramePresenceLeave), 1)

	// The superseded socket's pump exit must not disturb the replacement.
	ts.coord.Disconnect(first)
	_, ok = ts.coord.registry.Connection(userID)
	assert.True(t, ok)
	assert.Equal(t, 2, ts.coord.ConnectedCount())
}

func TestDisconnectKeepsMembership(t *testing.T) {
	ts := newTestSession(t, 8)
	observer := ts.connect(t, ts.ownerID, "owner")
	userID := uuid.New()
	conn := ts.connect(t, userID, "alice")
	drain(observer)

	ts.coord.Disconnect(conn)

	leaves := framesOfType(drain(observer), FramePresenceLeave)
	require.Len(t, leaves, 1)

	role, isMember := ts.coord.RoleOf(userID)
	assert.True(t, isMember)
	assert.Equal(t, models.RoleMember, role)
	assert.Equal(t, 1, ts.coord.ConnectedCount())
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	ts := newTestSession(t, 8)
	ownerConn := ts.connect(t, ts.ownerID, "owner")
	aliceConn := ts.connect(t, uuid.New(), "alice")
	drain(ownerConn)
	drain(aliceConn)

	msg, err := ts.coord.HandleChat(context.Background(), aliceConn, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	require.Len(t, ts.store.messages, 1)

	for _, conn := range []*Conn{ownerConn, aliceConn} {
		frames := framesOfType(drain(conn), FrameMessageNew)
		require.Len(t, frames, 1)
		payload := frames[0]["message"].(map[string]interface{})
		assert.Equal(t, "hello", payload["content"])
		sender := payload["sender"].(map[string]interface{})
		assert.Equal(t, "alice", sender["username"])
	}
}

func TestChatValidation(t *testing.T) {
	ts := newTestSession(t, 8)
	conn := ts.connect(t, ts.ownerID, "owner")

	_, err := ts.coord.HandleChat(context.Background(), conn, "   ")
	assert.ErrorIs(t, err, ErrConflict)

	long := make([]byte, models.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = ts.coord.HandleChat(context.Background(), conn, string(long))
	assert.ErrorIs(t, err, ErrConflict)

	assert.Empty(t, ts.store.messages)
}

func TestChatRequiresCurrentConnection(t *testing.T) {
	ts := newTestSession(t, 8)
	userID := uuid.New()
	stale := ts.connect(t, userID, "alice")
	ts.connect(t, userID, "alice")

	_, err := ts.coord.HandleChat(context.Background(), stale, "hello")
	assert.ErrorIs(t, err, ErrForbidden)

	outsider := NewConn(uuid.New(), "ghost", false, func() {})
	_, err = ts.coord.HandleChat(context.Background(), outsider, "hello")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestChatRateLimit(t *testing.T) {
	ts := newTestSession(t, 8)
	conn := ts.connect(t, ts.ownerID, "owner")
	drain(conn)

	for i := 0; i < 3; i++ {
		_, err := ts.coord.HandleChat(context.Background(), conn, "spam")
		require.NoError(t, err)
	}
	_, err := ts.coord.HandleChat(context.Background(), conn, "spam")
	assert.ErrorIs(t, err, ErrRateLimited)

	// The rejected message was neither stored nor broadcast.
	assert.Len(t, ts.store.messages, 3)
	assert.Len(t, framesOfType(drain(conn), FrameMessageNew), 3)
}

func TestChatPersistenceFailureConsumesQuota(t *testing.T) {
	ts := newTestSession(t, 8)
	conn := ts.connect(t, ts.ownerID, "owner")
	drain(conn)

	_, err := ts.coord.HandleChat(context.Background(), conn, "one")
	require.NoError(t, err)
	_, err = ts.coord.HandleChat(context.Background(), conn, "two")
	require.NoError(t, err)
	drain(conn)

	ts.store.setFailing(true)
	_, err = ts.coord.HandleChat(context.Background(), conn, "three")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, framesOfType(drain(conn), FrameMessageNew))

	// The failed attempt still counted against the window.
	ts.store.setFailing(false)
	_, err = ts.coord.HandleChat(context.Background(), conn, "four")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTypingExcludesSender(t *testing.T) {
	ts := newTestSession(t, 8)
	ownerConn := ts.connect(t, ts.ownerID, "owner")
	aliceConn := ts.connect(t, uuid.New(), "alice")
	drain(ownerConn)
	drain(aliceConn)

	require.NoError(t, ts.coord.HandleTyping(aliceConn, true))
	require.NoError(t, ts.coord.HandleTyping(aliceConn, false))

	ownerFrames := drain(ownerConn)
	assert.Len(t, framesOfType(ownerFrames, FrameTypingStart), 1)
	assert.Len(t, framesOfType(ownerFrames, FrameTypingStop), 1)
	assert.Empty(t, drain(aliceConn))
}

func TestLeave(t *testing.T) {
	ts := newTestSession(t, 8)
	observer := ts.connect(t, ts.ownerID, "owner")
	userID := uuid.New()
	ts.connect(t, userID, "alice")
	drain(observer)

	require.NoError(t, ts.coord.Leave(context.Background(), userID))
	assert.Contains(t, ts.store.deleted, userID)
	_, isMember := ts.coord.RoleOf(userID)
	assert.False(t, isMember)
	assert.Len(t, framesOfType(drain(observer), FramePresenceLeave), 1)

	// Leaving twice is an error; the membership is already gone.
	err := ts.coord.Leave(context.Background(), userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnerCannotLeave(t *testing.T) {
	ts := newTestSession(t, 8)
	ts.connect(t, ts.ownerID, "owner")

	err := ts.coord.Leave(context.Background(), ts.ownerID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, isMember := ts.coord.RoleOf(ts.ownerID)
	assert.True(t, isMember)
}

func TestUpdateSettings(t *testing.T) {
	ts := newTestSession(t, 8)
	ts.connect(t, ts.ownerID, "owner")
	ts.connect(t, uuid.New(), "alice")

	name := "renamed"
	isPublic := false
	updated, err := ts.coord.UpdateSettings(context.Background(), ts.ownerID, SettingsPatch{
		Name:     &name,
		IsPublic: &isPublic,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.IsPublic)

	// Capacity cannot shrink below the current member count.
	tooSmall := 1
	_, err = ts.coord.UpdateSettings(context.Background(), ts.ownerID, SettingsPatch{MaxParticipants: &tooSmall})
	assert.ErrorIs(t, err, ErrConflict)

	// Non-owners cannot touch settings.
	_, err = ts.coord.UpdateSettings(context.Background(), uuid.New(), SettingsPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotOwner)
}
