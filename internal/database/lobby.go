package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/openpark/lobbyd/internal/models"
)

// Store adapts the lobbies/memberships/bans/messages tables to the
// persistence interface the session coordinator consumes.
type Store struct{}

// NewStore returns a Store backed by the global pool.
func NewStore() *Store { return &Store{} }

// InsertLobby creates the lobby row and the owner's membership in one
// transaction, so a lobby never exists without exactly one owner.
func InsertLobby(ctx context.Context, lobbyRow *models.Lobby) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO lobbies (id, name, owner_id, is_public, status, max_participants, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			lobbyRow.ID, lobbyRow.Name, lobbyRow.OwnerID, lobbyRow.IsPublic,
			lobbyRow.Status, lobbyRow.MaxParticipants, lobbyRow.CreatedAt,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO lobby_memberships (lobby_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`,
			lobbyRow.ID, lobbyRow.OwnerID, models.RoleOwner, lobbyRow.CreatedAt,
		)
		return err
	})
}

// UpdateLobbySettings stores owner-editable settings.
func (s *Store) UpdateLobbySettings(ctx context.Context, lobbyID uuid.UUID, name string, isPublic bool, maxParticipants int) error {
	q := `UPDATE lobbies SET name=$1, is_public=$2, max_participants=$3 WHERE id=$4`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, name, isPublic, maxParticipants, lobbyID)
		return err
	})
}

// LobbyFilter narrows ListLobbies results.
type LobbyFilter struct {
	PublicOnly bool
	Status     models.LobbyStatus
	Search     string
}

// ListLobbies returns lobbies matching the filter, newest first.
func ListLobbies(ctx context.Context, f LobbyFilter) ([]models.Lobby, error) {
	q := `
	SELECT l.id, l.name, l.owner_id, l.is_public, l.status, l.max_participants, l.created_at
	FROM lobbies l
	WHERE 1=1`
	args := []interface{}{}
	if f.PublicOnly {
		q += ` AND l.is_public`
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` AND l.status = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		q += fmt.Sprintf(` AND l.name ILIKE $%d`, len(args))
	}
	q += ` ORDER BY l.created_at DESC`

	rows, err := DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		var l models.Lobby
		if err := rows.Scan(&l.ID, &l.Name, &l.OwnerID, &l.IsPublic, &l.Status, &l.MaxParticipants, &l.CreatedAt); err != nil {
			return nil, err
		}
		lobbies = append(lobbies, l)
	}
	return lobbies, rows.Err()
}

// LoadLobby fetches one lobby row.
func (s *Store) LoadLobby(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error) {
	var l models.Lobby
	q := `
	SELECT id, name, owner_id, is_public, status, max_participants, created_at
	FROM lobbies
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, lobbyID).Scan(
		&l.ID, &l.Name, &l.OwnerID, &l.IsPublic, &l.Status, &l.MaxParticipants, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadMemberships returns the membership snapshot for a coordinator start.
func (s *Store) LoadMemberships(ctx context.Context, lobbyID uuid.UUID) ([]models.Membership, error) {
	q := `
	SELECT m.lobby_id, m.user_id, u.username, m.role, m.joined_at
	FROM lobby_memberships m
	JOIN users u ON u.id = m.user_id
	WHERE m.lobby_id = $1
	ORDER BY m.joined_at
	`
	rows, err := DB.Query(ctx, q, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.LobbyID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadBans returns the ban list for a coordinator start.
func (s *Store) LoadBans(ctx context.Context, lobbyID uuid.UUID) ([]models.Ban, error) {
	q := `
	SELECT lobby_id, user_id, reason, banned_by, created_at
	FROM lobby_bans
	WHERE lobby_id = $1
	`
	rows, err := DB.Query(ctx, q, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ban
	for rows.Next() {
		var b models.Ban
		if err := rows.Scan(&b.LobbyID, &b.UserID, &b.Reason, &b.BannedBy, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) InsertMembership(ctx context.Context, m models.Membership) error {
	q := `
	INSERT INTO lobby_memberships (lobby_id, user_id, role, joined_at)
	VALUES ($1, $2, $3, $4)
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, m.LobbyID, m.UserID, m.Role, m.JoinedAt)
		return err
	})
}

func (s *Store) DeleteMembership(ctx context.Context, lobbyID, userID uuid.UUID) error {
	q := `DELETE FROM lobby_memberships WHERE lobby_id=$1 AND user_id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, lobbyID, userID)
		return err
	})
}

func (s *Store) UpdateMembershipRole(ctx context.Context, lobbyID, userID uuid.UUID, role models.Role) error {
	q := `UPDATE lobby_memberships SET role=$1 WHERE lobby_id=$2 AND user_id=$3`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, role, lobbyID, userID)
		return err
	})
}

// TransferOwnership moves the owner pointer and both membership roles in a
// single transaction. A crash mid-transfer can never leave the owner column
// disagreeing with the membership rows.
func (s *Store) TransferOwnership(ctx context.Context, lobbyID, from, to uuid.UUID) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE lobbies SET owner_id=$1 WHERE id=$2`, to, lobbyID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE lobby_memberships SET role=$1 WHERE lobby_id=$2 AND user_id=$3`,
			models.RoleMember, lobbyID, from); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE lobby_memberships SET role=$1 WHERE lobby_id=$2 AND user_id=$3`,
			models.RoleOwner, lobbyID, to)
		return err
	})
}

func (s *Store) SetLobbyStatus(ctx context.Context, lobbyID uuid.UUID, status models.LobbyStatus) error {
	q := `UPDATE lobbies SET status=$1 WHERE id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, status, lobbyID)
		return err
	})
}

// RecordBan upserts the ban and removes any membership row for the target
// in the same transaction, so durable state never holds both. Retrying a
// ban never duplicates the record.
func (s *Store) RecordBan(ctx context.Context, b models.Ban) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO lobby_bans (lobby_id, user_id, reason, banned_by, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (lobby_id, user_id) DO NOTHING`,
			b.LobbyID, b.UserID, b.Reason, b.BannedBy, b.CreatedAt,
		)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM lobby_memberships WHERE lobby_id=$1 AND user_id=$2`,
			b.LobbyID, b.UserID)
		return err
	})
}

func (s *Store) DeleteBan(ctx context.Context, lobbyID, userID uuid.UUID) error {
	q := `DELETE FROM lobby_bans WHERE lobby_id=$1 AND user_id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, lobbyID, userID)
		return err
	})
}

// AppendEvent writes one lobby_events audit row.
func (s *Store) AppendEvent(ctx context.Context, ev models.LobbyEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	var target interface{}
	if ev.TargetID != uuid.Nil {
		target = ev.TargetID
	}
	q := `
	INSERT INTO lobby_events (id, lobby_id, event_type, actor_id, target_id, description, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, ev.ID, ev.LobbyID, ev.EventType, ev.ActorID, target, ev.Description, meta, ev.CreatedAt)
		return err
	})
}
