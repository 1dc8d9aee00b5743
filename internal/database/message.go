package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/openpark/lobbyd/internal/models"
)

// AppendMessage inserts one chat message. The id comes from the caller and
// the insert ignores duplicates, so a retry has at most one visible effect.
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	q := `
	INSERT INTO messages (id, lobby_id, sender_id, content, created_at, is_deleted)
	VALUES ($1, $2, $3, $4, $5, false)
	ON CONFLICT (id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, m.ID, m.LobbyID, m.SenderID, m.Content, m.CreatedAt)
		return err
	})
}

// ListMessages returns up to limit non-deleted messages for a lobby,
// newest first. Soft-deleted rows stay in the table for audit but are
// excluded here.
func ListMessages(ctx context.Context, lobbyID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `
	SELECT id, lobby_id, sender_id, content, created_at, is_deleted
	FROM messages
	WHERE lobby_id=$1 AND NOT is_deleted
	ORDER BY created_at DESC
	LIMIT $2
	`
	rows, err := DB.Query(ctx, q, lobbyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.LobbyID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsDeleted); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage fetches one message regardless of its tombstone.
func GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	var m models.Message
	q := `
	SELECT id, lobby_id, sender_id, content, created_at, is_deleted
	FROM messages
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, messageID).Scan(&m.ID, &m.LobbyID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsDeleted)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SoftDeleteMessage sets the tombstone flag instead of removing the row.
func SoftDeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	q := `UPDATE messages SET is_deleted=true WHERE id=$1`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, messageID)
		return err
	})
}
