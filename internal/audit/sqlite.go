package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists audit logs in the embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_conversations (
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	user_phone      TEXT NOT NULL,
	role            TEXT NOT NULL,
	started_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, conversation_id)
);
CREATE TABLE IF NOT EXISTS audit_entries (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	at              TIMESTAMP NOT NULL,
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

// NewSQLiteStore creates the store and its tables.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertHeader(ctx context.Context, meta Meta, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_conversations (tenant_id, conversation_id, user_phone, role, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, conversation_id) DO NOTHING`,
		meta.TenantID, meta.ConversationID, meta.UserPhone, meta.Role, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert audit header: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEntry(ctx context.Context, meta Meta, entry *Entry) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, meta.TenantID, meta.ConversationID, entry.At.UTC(), string(entry.Kind),
		entry.Text, entry.Model, entry.ResponseID,
		inputTokens, outputTokens, entry.SystemPrompt, tools,
		entry.VectorStoreID, citations, toolCall)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountByKind(ctx context.Context, tenantID, conversationID string, kind Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_entries
		WHERE tenant_id = ? AND conversation_id = ? AND kind = ?`,
		tenantID, conversationID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// marshalEntryBlobs serializes the structured entry fields into JSON text
// columns. Empty values become empty strings, not "null".
func marshalEntryBlobs(entry *Entry) (tools, citations, toolCall string, err error) {
	if len(entry.ToolsUsed) > 0 {
		raw, merr := json.Marshal(entry.ToolsUsed)
		if merr != nil {
			return "", "", "", fmt.Errorf("marshal tools_used: %w", merr)
		}
		tools = string(raw)
	}
	if len(entry.FileCitations) > 0 {
		raw, merr := json.Marshal(entry.FileCitations)
		if merr != nil {
			return "", "", "", fmt.Errorf("marshal file_citations: %w", merr)
		}
		citations = string(raw)
	}
	if entry.ToolCall != nil {
		raw, merr := json.Marshal(entry.ToolCall)
		if merr != nil {
			return "", "", "", fmt.Errorf("marshal tool_call: %w", merr)
		}
		toolCall = string(raw)
	}
	return tools, citations, toolCall, nil
}
