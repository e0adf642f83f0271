package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// MemoryMappingStore is an in-memory MappingStore for tests and local runs.
type MemoryMappingStore struct {
	mu   sync.RWMutex
	byID map[string]string
}

// NewMemoryMappingStore creates an empty in-memory mapping store.
func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{byID: make(map[string]string)}
}

func (s *MemoryMappingStore) Get(ctx context.Context, tenantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[tenantID], nil
}

func (s *MemoryMappingStore) Set(ctx context.Context, tenantID, vectorStoreID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tenantID] = vectorStoreID
	return nil
}

// SQLiteMappingStore persists the mapping with the embedded sqlite driver.
type SQLiteMappingStore struct {
	db *sql.DB
}

const sqliteMappingSchema = `
CREATE TABLE IF NOT EXISTS kb_vector_stores (
	tenant_id       TEXT PRIMARY KEY,
	vector_store_id TEXT NOT NULL,
	updated_at      TIMESTAMP NOT NULL
)`

// NewSQLiteMappingStore creates the store and its table.
func NewSQLiteMappingStore(db *sql.DB) (*SQLiteMappingStore, error) {
	if _, err := db.Exec(sqliteMappingSchema); err != nil {
		return nil, fmt.Errorf("create kb_vector_stores table: %w", err)
	}
	return &SQLiteMappingStore{db: db}, nil
}

func (s *SQLiteMappingStore) Get(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector_store_id FROM kb_vector_stores WHERE tenant_id = ?`, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query vector store mapping: %w", err)
	}
	return id, nil
}

func (s *SQLiteMappingStore) Set(ctx context.Context, tenantID, vectorStoreID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb_vector_stores (tenant_id, vector_store_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			vector_store_id = excluded.vector_store_id,
			updated_at = excluded.updated_at`,
		tenantID, vectorStoreID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert vector store mapping: %w", err)
	}
	return nil
}

// PostgresMappingStore is the Postgres counterpart of SQLiteMappingStore.
type PostgresMappingStore struct {
	db *sql.DB
}

const postgresMappingSchema = `
CREATE TABLE IF NOT EXISTS kb_vector_stores (
	tenant_id       TEXT PRIMARY KEY,
	vector_store_id TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
)`

// NewPostgresMappingStore creates the store and its table.
func NewPostgresMappingStore(db *sql.DB) (*PostgresMappingStore, error) {
	if _, err := db.Exec(postgresMappingSchema); err != nil {
		return nil, fmt.Errorf("create kb_vector_stores table: %w", err)
	}
	return &PostgresMappingStore{db: db}, nil
}

func (s *PostgresMappingStore) Get(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector_store_id FROM kb_vector_stores WHERE tenant_id = $1`, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query vector store mapping: %w", err)
	}
	return id, nil
}

func (s *PostgresMappingStore) Set(ctx context.Context, tenantID, vectorStoreID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb_vector_stores (tenant_id, vector_store_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			vector_store_id = excluded.vector_store_id,
			updated_at = excluded.updated_at`,
		tenantID, vectorStoreID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert vector store mapping: %w", err)
	}
	return nil
}
