// Package knowledge provisions and repairs per-tenant knowledge-base vector
// stores. Each tenant owns exactly one index; the manager keeps the tenant →
// index mapping durable and heals it when the provider loses the index.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
)

// VectorStoreAPI is the slice of the provider client the manager needs.
// Clients are per-tenant (per-API-key), so callers pass the right one in.
type VectorStoreAPI interface {
	ValidateVectorStore(ctx context.Context, id string) error
	CreateVectorStore(ctx context.Context, name string) (string, error)
}

// NotFoundChecker reports whether an upstream error means "index is gone"
// rather than a transient failure.
type NotFoundChecker func(error) bool

// MappingStore persists the tenant → vector store id mapping.
type MappingStore interface {
	// Get returns the stored id, or "" when the tenant has none.
	Get(ctx context.Context, tenantID string) (string, error)

	// Set stores the id, overwriting any stale mapping.
	Set(ctx context.Context, tenantID, vectorStoreID string) error
}

// Manager ensures one valid vector store per tenant. Safe to call every
// turn: when the mapping exists and validates, the cost is a single metadata
// lookup.
type Manager struct {
	store      MappingStore
	isNotFound NotFoundChecker
	logger     *slog.Logger
}

// NewManager creates a manager. isNotFound classifies upstream validation
// errors; typically provider.IsNotFound.
func NewManager(store MappingStore, isNotFound NotFoundChecker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		isNotFound: isNotFound,
		logger:     logger.With("component", "knowledge"),
	}
}

// EnsureForTenant returns the tenant's vector store id, creating or
// recreating the index as needed. A 404-class validation error invalidates
// the stored id; any other validation error is treated as transient and the
// stored id is trusted.
func (m *Manager) EnsureForTenant(ctx context.Context, api VectorStoreAPI, tenantID string) (string, error) {
	id, err := m.store.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load vector store mapping: %w", err)
	}

	if id != "" {
		validateErr := api.ValidateVectorStore(ctx, id)
		if validateErr == nil {
			return id, nil
		}
		if !m.isNotFound(validateErr) {
			m.logger.Warn("vector store validation failed transiently, trusting stored id",
				"tenant_id", tenantID, "vector_store_id", id, "error", validateErr)
			return id, nil
		}
		m.logger.Info("stored vector store is gone upstream, recreating",
			"tenant_id", tenantID, "vector_store_id", id)
	}

	return m.create(ctx, api, tenantID)
}

// RepairForTenant forces recreation of the tenant's index. Used when the
// provider reports a missing index outside the normal validate path.
func (m *Manager) RepairForTenant(ctx context.Context, api VectorStoreAPI, tenantID string) (string, error) {
	m.logger.Info("repairing vector store", "tenant_id", tenantID)
	return m.create(ctx, api, tenantID)
}

func (m *Manager) create(ctx context.Context, api VectorStoreAPI, tenantID string) (string, error) {
	id, err := api.CreateVectorStore(ctx, "kb-"+tenantID)
	if err != nil {
		return "", fmt.Errorf("create vector store: %w", err)
	}
	if err := m.store.Set(ctx, tenantID, id); err != nil {
		return "", fmt.Errorf("persist vector store mapping: %w", err)
	}
	m.logger.Info("vector store provisioned", "tenant_id", tenantID, "vector_store_id", id)
	return id, nil
}
