package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/permit"
)

// MemoryDirectory implements the Directory and Seeder contracts in-memory
// for tests and development.
type MemoryDirectory struct {
	mu          sync.RWMutex
	tenants     map[string]permit.Tenant
	memberships map[string][]permit.Membership // userID -> memberships across tenants
	grants      map[string]map[permit.Permission]struct{}
	superAdmins map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants:     make(map[string]permit.Tenant),
		memberships: make(map[string][]permit.Membership),
		grants:      make(map[string]map[permit.Permission]struct{}),
		superAdmins: make(map[string]struct{}),
	}
}

func grantKey(userID, tenantID string) string {
	return userID + "|" + tenantID
}

func (d *MemoryDirectory) SaveTenant(ctx context.Context, t permit.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
	return nil
}

func (d *MemoryDirectory) SaveMembership(ctx context.Context, m permit.Membership) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	m.UpdatedAt = now
	list := d.memberships[m.UserID]
	for i := range list {
		if list[i].TenantID == m.TenantID {
			m.CreatedAt = list[i].CreatedAt
			list[i] = m
			return nil
		}
	}
	m.CreatedAt = now
	d.memberships[m.UserID] = append(list, m)
	return nil
}

func (d *MemoryDirectory) SetSuperAdmin(ctx context.Context, userID string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled {
		d.superAdmins[userID] = struct{}{}
	} else {
		delete(d.superAdmins, userID)
	}
	return nil
}

func (d *MemoryDirectory) GetSuperAdminStatus(ctx context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.superAdmins[userID]
	return ok, nil
}

func (d *MemoryDirectory) GetActiveMembership(ctx context.Context, userID string) (*permit.Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.memberships[userID] {
		if m.Status == permit.StatusActive {
			dup := m
			return &dup, nil
		}
	}
	return nil, nil
}

func (d *MemoryDirectory) ListGrants(ctx context.Context, userID, tenantID string) ([]permit.Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.grants[grantKey(userID, tenantID)]
	out := make([]permit.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (d *MemoryDirectory) ListGrantsAdmin(ctx context.Context, tenantID string) (map[string][]permit.Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]permit.Permission)
	suffix := "|" + tenantID
	for key, set := range d.grants {
		if len(key) <= len(suffix) || key[len(key)-len(suffix):] != suffix {
			continue
		}
		userID := key[:len(key)-len(suffix)]
		perms := make([]permit.Permission, 0, len(set))
		for p := range set {
			perms = append(perms, p)
		}
		sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
		out[userID] = perms
	}
	return out, nil
}

func (d *MemoryDirectory) ReplaceGrants(ctx context.Context, userID, tenantID string, perms []permit.Permission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.memberships[userID] {
		if m.TenantID == tenantID && m.Status == permit.StatusActive && m.Role == permit.RoleOwner {
			return fmt.Errorf("%w: cannot edit owner grants", permit.ErrForbidden)
		}
	}
	set := make(map[permit.Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	key := grantKey(userID, tenantID)
	if len(set) == 0 {
		delete(d.grants, key)
		return nil
	}
	d.grants[key] = set
	return nil
}

func (d *MemoryDirectory) ListTenantsForSuperAdmin(ctx context.Context) ([]permit.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]permit.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
