// Package audit records every conversation turn to a durable store, with an
// optional local file sink for inspection. Audit failures are logged and
// swallowed: losing an entry must never fail the user-facing turn.
package audit

import (
	"context"
	"time"
)

// Kind tags what produced an entry.
type Kind string

const (
	KindUser  Kind = "user"
	KindAI    Kind = "ai"
	KindEvent Kind = "event"
)

// Meta identifies a conversation. One header exists per
// (tenant, conversation) pair, created idempotently on first append.
type Meta struct {
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	UserPhone      string `json:"user_phone"`
	Role           string `json:"role"`
}

// Usage is the token usage recorded with an AI entry.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolCallRecord captures one tool invocation. Arguments and output are
// truncated by the caller to keep audit storage finite.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
}

// Entry is one append-only audit record, ordered by At under its header.
type Entry struct {
	ID            string          `json:"id"`
	At            time.Time       `json:"at"`
	Kind          Kind            `json:"kind"`
	Text          string          `json:"text,omitempty"`
	Model         string          `json:"model,omitempty"`
	ResponseID    string          `json:"response_id,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	ToolsUsed     []string        `json:"tools_used,omitempty"`
	VectorStoreID string          `json:"vector_store_id,omitempty"`
	FileCitations []string        `json:"file_citations,omitempty"`
	ToolCall      *ToolCallRecord `json:"tool_call,omitempty"`
}

// Store is the durable audit sink.
type Store interface {
	// UpsertHeader idempotently creates the conversation header.
	UpsertHeader(ctx context.Context, meta Meta, startedAt time.Time) error

	// AppendEntry inserts one entry under the header.
	AppendEntry(ctx context.Context, meta Meta, entry *Entry) error

	// CountByKind counts entries of one kind in a conversation.
	CountByKind(ctx context.Context, tenantID, conversationID string, kind Kind) (int, error)
}
