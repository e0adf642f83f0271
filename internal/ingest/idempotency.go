package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// IdempotencyStore deduplicates inbound messages. The upstream channel
// delivers at least once; business logic runs at most once per message id.
type IdempotencyStore interface {
	// MarkIfNew records the id and reports whether it was unseen.
	MarkIfNew(ctx context.Context, tenantID, messageID string) (bool, error)
}

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]struct{})}
}

func (s *MemoryIdempotencyStore) MarkIfNew(ctx context.Context, tenantID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tenantID + ":" + messageID
	if _, ok := s.seen[k]; ok {
		return false, nil
	}
	s.seen[k] = struct{}{}
	return true, nil
}

const sqliteIdempotencySchema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	tenant_id    TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, message_id)
);`

// SQLiteIdempotencyStore is a durable IdempotencyStore over the embedded
// sqlite driver, so dedup survives restarts.
type SQLiteIdempotencyStore struct {
	db *sql.DB
}

// NewSQLiteIdempotencyStore applies the schema and wraps db.
func NewSQLiteIdempotencyStore(db *sql.DB) (*SQLiteIdempotencyStore, error) {
	if _, err := db.Exec(sqliteIdempotencySchema); err != nil {
		return nil, fmt.Errorf("apply idempotency schema: %w", err)
	}
	return &SQLiteIdempotencyStore{db: db}, nil
}

func (s *SQLiteIdempotencyStore) MarkIfNew(ctx context.Context, tenantID, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (tenant_id, message_id, processed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id, message_id) DO NOTHING`,
		tenantID, messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

const postgresIdempotencySchema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	tenant_id    TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, message_id)
);`

// PostgresIdempotencyStore is the Postgres counterpart of
// SQLiteIdempotencyStore.
type PostgresIdempotencyStore struct {
	db *sql.DB
}

// NewPostgresIdempotencyStore applies the schema and wraps db.
func NewPostgresIdempotencyStore(db *sql.DB) (*PostgresIdempotencyStore, error) {
	if _, err := db.Exec(postgresIdempotencySchema); err != nil {
		return nil, fmt.Errorf("apply idempotency schema: %w", err)
	}
	return &PostgresIdempotencyStore{db: db}, nil
}

func (s *PostgresIdempotencyStore) MarkIfNew(ctx context.Context, tenantID, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (tenant_id, message_id, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, message_id) DO NOTHING`,
		tenantID, messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
