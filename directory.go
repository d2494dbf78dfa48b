package permit

import (
	"context"
	"time"
)

// ============================================================================
// COLLABORATOR CONTRACTS
// ============================================================================

// MembershipStatus is the lifecycle state of a tenant membership. Only active
// memberships participate in authorization.
type MembershipStatus string

const (
	StatusPending  MembershipStatus = "pending"
	StatusActive   MembershipStatus = "active"
	StatusInactive MembershipStatus = "inactive"
)

// Tenant is an isolated customer workspace.
type Tenant struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Membership ties a user to a tenant with a role. A user holds at most one
// active membership per tenant.
type Membership struct {
	UserID    string           `json:"user_id" yaml:"user_id"`
	TenantID  string           `json:"tenant_id" yaml:"tenant_id"`
	Role      Role             `json:"role" yaml:"role"`
	Status    MembershipStatus `json:"status" yaml:"status"`
	CreatedAt time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Directory is the persistence contract the resolution engine depends on.
// Implementations live in the stores package; all reads are idempotent.
type Directory interface {
	// GetSuperAdminStatus reports the global, tenant-independent bypass flag.
	GetSuperAdminStatus(ctx context.Context, userID string) (bool, error)

	// GetActiveMembership returns the user's single active membership, or
	// (nil, nil) when the user belongs to no active tenant. A nil result is
	// not an error; callers must keep "no membership" distinct from failure.
	GetActiveMembership(ctx context.Context, userID string) (*Membership, error)

	// ListGrants returns the extra permissions recorded for the user in the
	// tenant. An empty set, not an error, when no grants exist.
	ListGrants(ctx context.Context, userID, tenantID string) ([]Permission, error)

	// ListGrantsAdmin is the bulk form used by the permissions-management
	// screen: every user with grants in the tenant.
	ListGrantsAdmin(ctx context.Context, tenantID string) (map[string][]Permission, error)

	// ReplaceGrants atomically replaces the full grant set for (user, tenant),
	// delete-then-insert. Rejects with ErrForbidden when the target user's
	// role in the tenant is owner.
	ReplaceGrants(ctx context.Context, userID, tenantID string, perms []Permission) error

	// ListTenantsForSuperAdmin returns every tenant, powering the
	// tenant-selector UI. Callers gate this behind the super-admin flag.
	ListTenantsForSuperAdmin(ctx context.Context) ([]Tenant, error)
}
