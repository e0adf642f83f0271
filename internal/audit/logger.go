package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Logger is the dual-sink conversation audit logger: a durable store as the
// primary sink and an optional file sink for local inspection. Both sinks
// swallow their own failures.
type Logger struct {
	store  Store
	file   *FileSink
	logger *slog.Logger
}

// NewLogger creates an audit logger. file may be nil.
func NewLogger(store Store, file *FileSink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:  store,
		file:   file,
		logger: logger.With("component", "audit"),
	}
}

// Init idempotently creates the conversation header.
func (l *Logger) Init(ctx context.Context, meta Meta) {
	if l.store == nil {
		return
	}
	if err := l.store.UpsertHeader(ctx, meta, time.Now().UTC()); err != nil {
		l.logger.Error("audit header upsert failed",
			"tenant_id", meta.TenantID,
			"conversation_id", meta.ConversationID,
			"error", err)
	}
}

// Append records one entry. The header is upserted first as a safety net so
// an entry can never exist without its header, even if Init was skipped.
func (l *Logger) Append(ctx context.Context, meta Meta, entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	if l.store != nil {
		if err := l.store.UpsertHeader(ctx, meta, entry.At); err != nil {
			l.logger.Error("audit header upsert failed",
				"tenant_id", meta.TenantID,
				"conversation_id", meta.ConversationID,
				"error", err)
		} else if err := l.store.AppendEntry(ctx, meta, entry); err != nil {
			l.logger.Error("audit append failed",
				"tenant_id", meta.TenantID,
				"conversation_id", meta.ConversationID,
				"kind", string(entry.Kind),
				"error", err)
		}
	}

	if l.file != nil {
		if err := l.file.Append(meta, entry); err != nil {
			l.logger.Warn("audit file sink failed",
				"tenant_id", meta.TenantID,
				"conversation_id", meta.ConversationID,
				"error", err)
		}
	}
}

// CountAI returns how many AI entries the conversation already has. Used for
// first-turn detection; on error callers assume the conversation is already
// in progress rather than re-introducing the assistant.
func (l *Logger) CountAI(ctx context.Context, tenantID, conversationID string) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	return l.store.CountByKind(ctx, tenantID, conversationID, KindAI)
}
