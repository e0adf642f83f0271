package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, nil)
	meta := Meta{TenantID: "t1", ConversationID: "5511999990000", UserPhone: "5511999990000", Role: "CLIENT"}

	l.Init(context.Background(), meta)
	l.Init(context.Background(), meta)

	if !store.HasHeader("t1", "5511999990000") {
		t.Fatal("expected header after Init")
	}
	if got := len(store.Entries("t1", "5511999990000")); got != 0 {
		t.Fatalf("Init must not create entries, got %d", got)
	}
}

func TestAppendCreatesHeaderWhenInitSkipped(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, nil)
	meta := Meta{TenantID: "t1", ConversationID: "conv-a"}

	l.Append(context.Background(), meta, &Entry{Kind: KindUser, Text: "Oi"})

	if !store.HasHeader("t1", "conv-a") {
		t.Fatal("Append must upsert the header before the entry")
	}
	entries := store.Entries("t1", "conv-a")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("entry ID should be assigned")
	}
	if entries[0].At.IsZero() {
		t.Error("entry timestamp should be assigned")
	}
}

type failingStore struct {
	headerErr error
	appendErr error
}

func (s *failingStore) UpsertHeader(ctx context.Context, meta Meta, startedAt time.Time) error {
	return s.headerErr
}

func (s *failingStore) AppendEntry(ctx context.Context, meta Meta, entry *Entry) error {
	return s.appendErr
}

func (s *failingStore) CountByKind(ctx context.Context, tenantID, conversationID string, kind Kind) (int, error) {
	return 0, nil
}

func TestAppendSwallowsStoreErrors(t *testing.T) {
	l := NewLogger(&failingStore{headerErr: errors.New("db down")}, nil, nil)
	meta := Meta{TenantID: "t1", ConversationID: "conv-a"}

	// Must not panic or propagate; the turn goes on.
	l.Append(context.Background(), meta, &Entry{Kind: KindAI, Text: "resposta"})
	l.Init(context.Background(), meta)

	l = NewLogger(&failingStore{appendErr: errors.New("insert failed")}, nil, nil)
	l.Append(context.Background(), meta, &Entry{Kind: KindAI, Text: "resposta"})
}

func TestCountAI(t *testing.T) {
	store := NewMemoryStore()
	l := NewLogger(store, nil, nil)
	meta := Meta{TenantID: "t1", ConversationID: "conv-a"}

	l.Append(context.Background(), meta, &Entry{Kind: KindUser, Text: "Oi"})
	l.Append(context.Background(), meta, &Entry{Kind: KindAI, Text: "Olá!"})
	l.Append(context.Background(), meta, &Entry{Kind: KindEvent, Text: "transfer"})
	l.Append(context.Background(), meta, &Entry{Kind: KindAI, Text: "Mais alguma coisa?"})

	n, err := l.CountAI(context.Background(), "t1", "conv-a")
	if err != nil {
		t.Fatalf("CountAI: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 ai entries, got %d", n)
	}
}

func TestDualSinkWritesBoth(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	store := NewMemoryStore()
	l := NewLogger(store, sink, nil)
	meta := Meta{TenantID: "t1", ConversationID: "5511999990000"}

	l.Append(context.Background(), meta, &Entry{Kind: KindAI, Text: "Olá!", Model: "gpt-4.1"})

	if got := len(store.Entries("t1", "5511999990000")); got != 1 {
		t.Fatalf("store: expected 1 entry, got %d", got)
	}
	entries, err := sink.Read("t1", "5511999990000")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "Olá!" {
		t.Fatalf("file sink: unexpected entries %+v", entries)
	}
}

func TestFileSinkFailureDoesNotBlockStore(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	// Break the sink by pointing it at a path under a regular file.
	broken := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(broken, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink.dir = filepath.Join(broken, "sub")

	store := NewMemoryStore()
	l := NewLogger(store, sink, nil)
	meta := Meta{TenantID: "t1", ConversationID: "conv-a"}

	l.Append(context.Background(), meta, &Entry{Kind: KindUser, Text: "Oi"})

	if got := len(store.Entries("t1", "conv-a")); got != 1 {
		t.Fatalf("store must still receive the entry, got %d", got)
	}
}
