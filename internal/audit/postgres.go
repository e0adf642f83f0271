package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists audit logs in Postgres. Same schema as the sqlite
// store; deployments pick one durable sink via configuration.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_conversations (
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	user_phone      TEXT NOT NULL,
	role            TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, conversation_id)
);
CREATE TABLE IF NOT EXISTS audit_entries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	at              TIMESTAMPTZ NOT NULL,
	kind            TEXT NOT NULL,
	text            TEXT,
	model           TEXT,
	response_id     TEXT,
	input_tokens    INTEGER,
	output_tokens   INTEGER,
	system_prompt   TEXT,
	tools_used      TEXT,
	vector_store_id TEXT,
	file_citations  TEXT,
	tool_call       TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_conversation
	ON audit_entries (tenant_id, conversation_id, at);
`

// NewPostgresStore creates the store and its tables.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) UpsertHeader(ctx context.Context, meta Meta, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_conversations (tenant_id, conversation_id, user_phone, role, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, conversation_id) DO NOTHING`,
		meta.TenantID, meta.ConversationID, meta.UserPhone, meta.Role, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert audit header: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEntry(ctx context.Context, meta Meta, entry *Entry) error {
	tools, citations, toolCall, err := marshalEntryBlobs(entry)
	if err != nil {
		return err
	}

	var inputTokens, outputTokens int
	if entry.Usage != nil {
		inputTokens = entry.Usage.InputTokens
		outputTokens = entry.Usage.OutputTokens
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, tenant_id, conversation_id, at, kind, text, model, response_id,
			input_tokens, output_tokens, system_prompt, tools_used,
			vector_store_id, file_citations, tool_call
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID, meta.TenantID, meta.ConversationID, entry.At.UTC(), string(entry.Kind),
		entry.Text, entry.Model, entry.ResponseID,
		inputTokens, outputTokens, entry.SystemPrompt, tools,
		entry.VectorStoreID, citations, toolCall)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountByKind(ctx context.Context, tenantID, conversationID string, kind Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_entries
		WHERE tenant_id = $1 AND conversation_id = $2 AND kind = $3`,
		tenantID, conversationID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
