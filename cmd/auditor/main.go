// cmd/auditor/main.go is an asynchronous worker that pops lobby events from
// the Redis audit queue and persists them to PostgreSQL. The inline event
// write on the serving path is best-effort, so this worker is the durability
// backstop; inserts are deduplicated by event ID. It also watches per-lobby
// activity and closes open lobbies that have gone quiet.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/openpark/lobbyd/internal/cache"
	"github.com/openpark/lobbyd/internal/config"
	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/models"
)

// Auditor encapsulates the Redis and DB logic for archiving lobby events and
// reaping idle lobbies.
type Auditor struct {
	redisClient *redis.Client
	batchSize   int
	flushDelay  time.Duration
	idleAfter   time.Duration
	lastSeen    sync.Map // map[uuid.UUID]time.Time, last event per lobby

	batchMu  sync.Mutex
	batch    []models.LobbyEvent
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewAuditor constructs an Auditor from environment variables or defaults.
func NewAuditor(redisAddr string, redisDB int) *Auditor {
	batchSize := getEnvInt("AUDITOR_BATCH_SIZE", 20)
	flushMs := getEnvInt("AUDITOR_FLUSH_MS", 500)
	idleSec := getEnvInt("LOBBY_IDLE_TIMEOUT_SEC", 3600)

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Auditor{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		idleAfter:   time.Duration(idleSec) * time.Second,
		batch:       make([]models.LobbyEvent, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run starts the two main loops: the queue reader with periodic flushes, and
// the idle-lobby check.
func (a *Auditor) Run() {
	go a.readQueueLoop()
	go a.idleLoop()

	log.Println("lobbyd-auditor started.")
	<-a.ctx.Done()
	a.flushBatch()
	log.Println("lobbyd-auditor shutting down.")
}

// Stop cancels the loops.
func (a *Auditor) Stop() {
	a.cancelFn()
}

// readQueueLoop continuously uses BLPop to retrieve events from the queue.
func (a *Auditor) readQueueLoop() {
	ticker := time.NewTicker(a.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-ticker.C:
			a.flushBatch()

		default:
			// 3-second BLPop timeout keeps context cancellation responsive.
			res, err := a.redisClient.BLPop(a.ctx, 3*time.Second, cache.AuditQueueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if a.ctx.Err() != nil {
					return
				}
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var ev models.LobbyEvent
			if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
				log.Printf("invalid lobby event: %v\n", err)
				continue
			}

			a.lastSeen.Store(ev.LobbyID, time.Now())
			a.appendToBatch(ev)
		}
	}
}

// appendToBatch adds an event to the in-memory batch and flushes at the
// threshold.
func (a *Auditor) appendToBatch(ev models.LobbyEvent) {
	a.batchMu.Lock()
	flush := false
	a.batch = append(a.batch, ev)
	if len(a.batch) >= a.batchSize {
		flush = true
	}
	a.batchMu.Unlock()
	if flush {
		a.flushBatch()
	}
}

// flushBatch writes the current batch to the database in one transaction.
// Events already persisted by the serving path are skipped via the ID
// conflict clause.
func (a *Auditor) flushBatch() {
	a.batchMu.Lock()
	if len(a.batch) == 0 {
		a.batchMu.Unlock()
		return
	}
	batchCopy := make([]models.LobbyEvent, len(a.batch))
	copy(batchCopy, a.batch)
	a.batch = a.batch[:0]
	a.batchMu.Unlock()

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range batchCopy {
			if err := insertEventTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flushBatch: %v\n", err)
	} else {
		log.Printf("Flushed %d lobby events to DB.\n", len(batchCopy))
	}
}

// insertEventTx inserts one event row, deduplicated by ID.
func insertEventTx(ctx context.Context, tx pgx.Tx, ev models.LobbyEvent) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	var targetID interface{}
	if ev.TargetID != uuid.Nil {
		targetID = ev.TargetID
	}
	q := `
		INSERT INTO lobby_events (id, lobby_id, event_type, actor_id, target_id, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.Exec(ctx, q,
		ev.ID, ev.LobbyID, ev.EventType, ev.ActorID, targetID, ev.Description, metadata, ev.CreatedAt,
	)
	return err
}

// idleLoop periodically closes open lobbies that have produced no events for
// longer than the idle threshold.
func (a *Auditor) idleLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			a.lastSeen.Range(func(key, val interface{}) bool {
				lobbyID, ok1 := key.(uuid.UUID)
				last, ok2 := val.(time.Time)
				if ok1 && ok2 && now.Sub(last) > a.idleAfter {
					a.closeIdleLobby(lobbyID)
					a.lastSeen.Delete(lobbyID)
				}
				return true
			})
		}
	}
}

// closeIdleLobby marks a lobby closed if it is still open.
func (a *Auditor) closeIdleLobby(lobbyID uuid.UUID) {
	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE lobbies
			SET status = 'closed'
			WHERE id = $1 AND status = 'open'
		`
		_, e := tx.Exec(ctx, q, lobbyID)
		return e
	})
	if err != nil {
		log.Printf("failed to close idle lobby %v: %v", lobbyID, err)
	} else {
		log.Printf("Closed lobby %v due to inactivity.", lobbyID)
	}
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	database.Connect(cfg.DatabaseURL())
	defer database.DB.Close()

	a := NewAuditor(cfg.RedisAddr, cfg.RedisDB)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		a.Stop()
	}()

	a.Run()
}
