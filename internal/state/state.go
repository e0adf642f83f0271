// Package state tracks the service-side conversation state kept outside the
// provider: what stage a conversation is in and the continuity data the
// orchestrator needs between turns.
package state

import (
	"context"
	"sync"
)

// Well-known conversation states. Queued conversations carry the department
// in Data; closed ones keep their summary for a possible reopen.
const (
	StateAI     = "ai"
	StateQueued = "queued"
	StateClosed = "closed"
)

// Data is the per-conversation continuity payload.
type Data struct {
	// LastResponseByConversation maps conversation id to the provider
	// response id used as previous_response_id on the next turn.
	LastResponseByConversation map[string]string `json:"last_response_by_conversation,omitempty"`

	// SummaryByConversation maps conversation id to the rolling summary
	// injected into the system prompt after a thread reset.
	SummaryByConversation map[string]string `json:"summary_by_conversation,omitempty"`

	// Department is set when the conversation is queued for a human.
	Department string `json:"department,omitempty"`

	// Reason is set when the AI chat was ended.
	Reason string `json:"reason,omitempty"`
}

// Snapshot is one load of a conversation's state. Version increments on
// every save, letting callers detect concurrent writes.
type Snapshot struct {
	State       string
	Data        Data
	AISessionID string
	Version     int64
}

// Store persists conversation state keyed by (tenant, user phone).
type Store interface {
	// Load returns the current snapshot, or nil when the pair is unseen.
	Load(ctx context.Context, tenantID, userPhone string) (*Snapshot, error)

	// Save replaces the stored state and bumps the version.
	Save(ctx context.Context, tenantID, userPhone, state string, data Data, aiSessionID string) error
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Snapshot
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Snapshot)}
}

func stateKey(tenantID, userPhone string) string {
	return tenantID + ":" + userPhone
}

func (s *MemoryStore) Load(ctx context.Context, tenantID, userPhone string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byKey[stateKey(tenantID, userPhone)]
	if !ok {
		return nil, nil
	}
	return cloneSnapshot(snap), nil
}

func (s *MemoryStore) Save(ctx context.Context, tenantID, userPhone, state string, data Data, aiSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey(tenantID, userPhone)
	var version int64 = 1
	if prev, ok := s.byKey[k]; ok {
		version = prev.Version + 1
	}
	s.byKey[k] = cloneSnapshot(&Snapshot{
		State:       state,
		Data:        data,
		AISessionID: aiSessionID,
		Version:     version,
	})
	return nil
}

// cloneSnapshot deep-copies so callers can mutate maps freely.
func cloneSnapshot(in *Snapshot) *Snapshot {
	out := &Snapshot{
		State:       in.State,
		AISessionID: in.AISessionID,
		Version:     in.Version,
		Data: Data{
			Department: in.Data.Department,
			Reason:     in.Data.Reason,
		},
	}
	if in.Data.LastResponseByConversation != nil {
		out.Data.LastResponseByConversation = make(map[string]string, len(in.Data.LastResponseByConversation))
		for k, v := range in.Data.LastResponseByConversation {
			out.Data.LastResponseByConversation[k] = v
		}
	}
	if in.Data.SummaryByConversation != nil {
		out.Data.SummaryByConversation = make(map[string]string, len(in.Data.SummaryByConversation))
		for k, v := range in.Data.SummaryByConversation {
			out.Data.SummaryByConversation[k] = v
		}
	}
	return out
}
