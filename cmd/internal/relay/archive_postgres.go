package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	v1 "careline/shared/contracts/chat/v1"
)

const (
	archiveQueueSize    = 1024
	archiveWriteTimeout = 5 * time.Second
)

// PostgresArchive writes retained relay events to careline.message_archive
// through a bounded queue and a single writer goroutine. When the queue is
// full, records are dropped with a warning; archiving never blocks or fails
// the relay path.
type PostgresArchive struct {
	log  *slog.Logger
	pool *pgxpool.Pool

	queue chan v1.HistoryMessage
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPostgresArchive ensures the archive schema exists and starts the writer.
// Ownership: the caller keeps the pool; Close stops the writer only.
func NewPostgresArchive(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) (*PostgresArchive, error) {
	if pool == nil {
		return nil, errors.New("relay: nil pool")
	}

	a := &PostgresArchive{
		log:   log,
		pool:  pool,
		queue: make(chan v1.HistoryMessage, archiveQueueSize),
		done:  make(chan struct{}),
	}
	if err := a.ensureSchema(ctx); err != nil {
		return nil, err
	}

	a.wg.Add(1)
	go a.run()
	return a, nil
}

func (a *PostgresArchive) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS careline`,
		`CREATE TABLE IF NOT EXISTS careline.message_archive (
			message_id  text PRIMARY KEY,
			room_id     text NOT NULL,
			sender_id   text NOT NULL,
			sender_role text NOT NULL,
			kind        text NOT NULL,
			payload     jsonb NOT NULL,
			created_at  timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS message_archive_room_idx
			ON careline.message_archive (room_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record enqueues msg for archiving without blocking.
func (a *PostgresArchive) Record(msg v1.HistoryMessage) {
	select {
	case <-a.done:
	case a.queue <- msg:
	default:
		a.log.Warn("archive.queue.full", "room_id", msg.RoomID, "message_id", msg.MessageID)
	}
}

// Close stops the writer. Queued records that have not been written yet are
// discarded; the archive is an audit trail, not a delivery guarantee.
func (a *PostgresArchive) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.done) })

	stopped := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *PostgresArchive) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		case msg := <-a.queue:
			a.write(msg)
		}
	}
}

func (a *PostgresArchive) write(msg v1.HistoryMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()

	_, err = a.pool.Exec(ctx,
		`INSERT INTO careline.message_archive
			(message_id, room_id, sender_id, sender_role, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (message_id) DO NOTHING`,
		msg.MessageID, msg.RoomID, msg.SenderID, msg.SenderRole, msg.Type, payload, msg.Timestamp,
	)
	if err != nil {
		a.log.Warn("archive.write.fail", "message_id", msg.MessageID, "err", err)
	}
}
