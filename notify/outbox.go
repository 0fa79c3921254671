package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a transactional outbox entry awaiting delivery.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Outbox writes messages inside the caller's transaction, so a notification
// is recorded if and only if the aggregate mutation commits.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	const query = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, query, topic, body); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// Store is the dispatcher's view of outbox persistence.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, dead bool) error
}

// PGStore implements Store on the outbox table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) FetchPending(ctx context.Context, limit int) ([]Message, error) {
	const query = `
		SELECT id, topic, payload, status, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: fetch pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan pending: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate pending: %w", err)
	}
	return out, nil
}

func (s *PGStore) MarkSent(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent', sent_at=now() WHERE id=$1`, id); err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id string, dead bool) error {
	status := "pending"
	if dead {
		status = "dead"
	}
	if _, err := s.pool.Exec(ctx, `UPDATE outbox SET status=$2, attempts=attempts+1 WHERE id=$1`, id, status); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
