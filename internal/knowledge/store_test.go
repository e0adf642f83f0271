package knowledge

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestSQLiteMappingStoreRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	s, err := NewSQLiteMappingStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteMappingStore: %v", err)
	}
	ctx := context.Background()

	if id, err := s.Get(ctx, "t1"); err != nil || id != "" {
		t.Fatalf("unseen tenant: id=%q err=%v", id, err)
	}
	if err := s.Set(ctx, "t1", "vs_1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if id, _ := s.Get(ctx, "t1"); id != "vs_1" {
		t.Errorf("Get after Set = %q", id)
	}
	if err := s.Set(ctx, "t1", "vs_2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if id, _ := s.Get(ctx, "t1"); id != "vs_2" {
		t.Errorf("Get after overwrite = %q", id)
	}
}

// sqlite also accepts $n placeholders, which lets the Postgres statements be
// exercised without a server.
func TestPostgresMappingStoreStatements(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	s, err := NewPostgresMappingStore(db)
	if err != nil {
		t.Fatalf("NewPostgresMappingStore: %v", err)
	}
	ctx := context.Background()

	if err := s.Set(ctx, "t1", "vs_1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if id, err := s.Get(ctx, "t1"); err != nil || id != "vs_1" {
		t.Errorf("Get = %q err=%v", id, err)
	}
}
