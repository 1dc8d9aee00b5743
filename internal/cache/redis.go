package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openpark/lobbyd/internal/models"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// AuditQueueName is the Redis list consumed by external audit tooling.
const AuditQueueName = "lobbyd_events"

// presenceTTL caps how long a stale presence mirror survives a crashed
// process; live traffic refreshes it continuously.
const presenceTTL = 5 * time.Minute

// Connect initializes the global Redis client.
func Connect(addr string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// AuditQueue publishes lobby events onto a Redis list for out-of-process
// consumers. It satisfies the coordinator's AuditSink.
type AuditQueue struct{}

// NewAuditQueue returns a queue backed by the global client.
func NewAuditQueue() *AuditQueue { return &AuditQueue{} }

// Publish serializes the event to JSON and pushes it onto the queue. Quick
// network send only; the caller treats failures as log-and-continue.
func (q *AuditQueue) Publish(ctx context.Context, ev models.LobbyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal lobby event: %w", err)
	}
	if err := Rdb.RPush(ctx, AuditQueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list %q: %w", AuditQueueName, err)
	}
	return nil
}

func presenceKey(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobby_presence:%s", lobbyID)
}

// AddPresence mirrors a connected user into the lobby's presence set, for
// dashboards and the REST surface. The in-process registry stays the source
// of truth for authorization.
func AddPresence(ctx context.Context, lobbyID, userID uuid.UUID) error {
	key := presenceKey(lobbyID)
	if err := Rdb.SAdd(ctx, key, userID.String()).Err(); err != nil {
		return err
	}
	return Rdb.Expire(ctx, key, presenceTTL).Err()
}

// RemovePresence drops a user from the presence mirror.
func RemovePresence(ctx context.Context, lobbyID, userID uuid.UUID) error {
	return Rdb.SRem(ctx, presenceKey(lobbyID), userID.String()).Err()
}

// GetPresence lists the mirrored user IDs for a lobby.
func GetPresence(ctx context.Context, lobbyID uuid.UUID) ([]uuid.UUID, error) {
	vals, err := Rdb.SMembers(ctx, presenceKey(lobbyID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(vals))
	for _, v := range vals {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
