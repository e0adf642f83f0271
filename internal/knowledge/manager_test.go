package knowledge

import (
	"context"
	"errors"
	"testing"
)

var errGone = errors.New("vector store gone")

type fakeAPI struct {
	validateCalls int
	validateErr   error
	createCalls   int
	nextID        string
	createErr     error
}

func (f *fakeAPI) ValidateVectorStore(ctx context.Context, id string) error {
	f.validateCalls++
	return f.validateErr
}

func (f *fakeAPI) CreateVectorStore(ctx context.Context, name string) (string, error) {
	f.createCalls++
	return f.nextID, f.createErr
}

func isGone(err error) bool { return errors.Is(err, errGone) }

func TestEnsureForTenant_CreatesOnFirstUse(t *testing.T) {
	store := NewMemoryMappingStore()
	api := &fakeAPI{nextID: "vs_new"}
	m := NewManager(store, isGone, nil)

	id, err := m.EnsureForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("EnsureForTenant: %v", err)
	}
	if id != "vs_new" {
		t.Errorf("id = %s", id)
	}
	if api.validateCalls != 0 {
		t.Errorf("validated %d times with no mapping", api.validateCalls)
	}
	if got, _ := store.Get(context.Background(), "t1"); got != "vs_new" {
		t.Errorf("mapping = %s", got)
	}
}

func TestEnsureForTenant_Idempotent(t *testing.T) {
	store := NewMemoryMappingStore()
	api := &fakeAPI{nextID: "vs_1"}
	m := NewManager(store, isGone, nil)

	first, err := m.EnsureForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	api.validateCalls = 0
	second, err := m.EnsureForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first != second {
		t.Errorf("ids differ: %s vs %s", first, second)
	}
	if api.validateCalls != 1 {
		t.Errorf("second call used %d validation round-trips, want 1", api.validateCalls)
	}
	if api.createCalls != 1 {
		t.Errorf("created %d stores, want 1", api.createCalls)
	}
}

func TestEnsureForTenant_NotFoundInvalidates(t *testing.T) {
	store := NewMemoryMappingStore()
	_ = store.Set(context.Background(), "t1", "vs_stale")
	api := &fakeAPI{validateErr: errGone, nextID: "vs_fresh"}
	m := NewManager(store, isGone, nil)

	id, err := m.EnsureForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("EnsureForTenant: %v", err)
	}
	if id != "vs_fresh" {
		t.Errorf("id = %s, want vs_fresh", id)
	}
	if got, _ := store.Get(context.Background(), "t1"); got != "vs_fresh" {
		t.Errorf("stale mapping not overwritten: %s", got)
	}
}

func TestEnsureForTenant_TransientErrorTrustsStoredID(t *testing.T) {
	store := NewMemoryMappingStore()
	_ = store.Set(context.Background(), "t1", "vs_kept")
	api := &fakeAPI{validateErr: errors.New("503 upstream"), nextID: "vs_wrong"}
	m := NewManager(store, isGone, nil)

	id, err := m.EnsureForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("EnsureForTenant: %v", err)
	}
	if id != "vs_kept" {
		t.Errorf("id = %s, want vs_kept", id)
	}
	if api.createCalls != 0 {
		t.Errorf("created %d stores on a transient error", api.createCalls)
	}
}

func TestRepairForTenant_ForcesRecreation(t *testing.T) {
	store := NewMemoryMappingStore()
	_ = store.Set(context.Background(), "t1", "vs_old")
	api := &fakeAPI{nextID: "vs_repaired"}
	m := NewManager(store, isGone, nil)

	id, err := m.RepairForTenant(context.Background(), api, "t1")
	if err != nil {
		t.Fatalf("RepairForTenant: %v", err)
	}
	if id != "vs_repaired" {
		t.Errorf("id = %s", id)
	}
	if api.validateCalls != 0 {
		t.Error("repair must not validate, it recreates")
	}
}
