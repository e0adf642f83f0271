// Package directory exposes read-side lookups against the platform's tenant,
// department and contact records. The orchestrator only reads here; tenant
// CRUD lives elsewhere.
package directory

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup has no match. Callers that can
// proceed without the record treat it as a soft miss.
var ErrNotFound = errors.New("directory: not found")

// ErrNoAIKey marks a tenant without provider credentials. Turns for such a
// tenant fail fast before any provider traffic.
var ErrNoAIKey = errors.New("directory: tenant has no AI API key")

// Tenant is one platform customer.
type Tenant struct {
	ID          string
	Name        string
	PhoneNumber string
}

// Settings holds the tenant's per-integration configuration.
type Settings struct {
	AITokenAPI       string
	MetaTokenAPI     string
	AgentInstruction string
}

// Department is a human-support queue destination.
type Department struct {
	ID   string
	Name string
}

// Customer is an end user of a tenant, matched by phone.
type Customer struct {
	Name       string
	Email      string
	Profession string
}

// Employee is a tenant staff member, matched by phone.
type Employee struct {
	Name       string
	Department string
}

// TenantRepo resolves tenants and their settings.
type TenantRepo interface {
	// ByPhoneNumber resolves the tenant owning a receiving WhatsApp number.
	ByPhoneNumber(ctx context.Context, phoneNumber string) (*Tenant, error)

	// Settings returns the tenant's settings. A tenant with no AI key
	// yields ErrNoAIKey.
	Settings(ctx context.Context, tenantID string) (*Settings, error)
}

// DepartmentRepo lists a tenant's departments.
type DepartmentRepo interface {
	ListNames(ctx context.Context, tenantID string) ([]string, error)
}

// CustomerRepo resolves tenant customers by phone.
type CustomerRepo interface {
	ByPhone(ctx context.Context, tenantID, phone string) (*Customer, error)
}

// EmployeeRepo resolves tenant employees by phone.
type EmployeeRepo interface {
	ByPhone(ctx context.Context, tenantID, phone string) (*Employee, error)
}

// MemoryDirectory is an in-memory implementation of all four repos, for
// tests and local runs.
type MemoryDirectory struct {
	Tenants        map[string]*Tenant   // by id
	TenantSettings map[string]*Settings // by tenant id
	Departments    map[string][]string  // tenant id -> names
	Customers      map[string]*Customer // tenant id + ":" + phone
	Employees      map[string]*Employee // tenant id + ":" + phone
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		Tenants:        make(map[string]*Tenant),
		TenantSettings: make(map[string]*Settings),
		Departments:    make(map[string][]string),
		Customers:      make(map[string]*Customer),
		Employees:      make(map[string]*Employee),
	}
}

// AddTenant registers a tenant with its settings.
func (d *MemoryDirectory) AddTenant(t *Tenant, s *Settings) {
	d.Tenants[t.ID] = t
	d.TenantSettings[t.ID] = s
}

func (d *MemoryDirectory) ByPhoneNumber(ctx context.Context, phoneNumber string) (*Tenant, error) {
	for _, t := range d.Tenants {
		if t.PhoneNumber == phoneNumber {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tenant for %s: %w", phoneNumber, ErrNotFound)
}

func (d *MemoryDirectory) Settings(ctx context.Context, tenantID string) (*Settings, error) {
	s, ok := d.TenantSettings[tenantID]
	if !ok {
		return nil, fmt.Errorf("settings for %s: %w", tenantID, ErrNotFound)
	}
	if s.AITokenAPI == "" {
		return nil, ErrNoAIKey
	}
	return s, nil
}

func (d *MemoryDirectory) ListNames(ctx context.Context, tenantID string) ([]string, error) {
	names := d.Departments[tenantID]
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

func (d *MemoryDirectory) ByPhone(ctx context.Context, tenantID, phone string) (*Customer, error) {
	c, ok := d.Customers[tenantID+":"+phone]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// EmployeeByPhone resolves an employee. MemoryDirectory cannot implement
// both ByPhone signatures on one type, so EmployeeRepo is satisfied by the
// Employees view.
func (d *MemoryDirectory) EmployeeByPhone(ctx context.Context, tenantID, phone string) (*Employee, error) {
	e, ok := d.Employees[tenantID+":"+phone]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// EmployeeView adapts MemoryDirectory to EmployeeRepo.
type EmployeeView struct{ Dir *MemoryDirectory }

func (v EmployeeView) ByPhone(ctx context.Context, tenantID, phone string) (*Employee, error) {
	return v.Dir.EmployeeByPhone(ctx, tenantID, phone)
}
