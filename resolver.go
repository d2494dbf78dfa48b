package permit

import "sort"

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot is one atomically-published view of an identity: super-admin flag,
// active membership and grant set fetched together during a single refresh.
// The zero value is the deny posture (no role, no grants, no bypass), which is
// also what the session publishes after a failed refresh.
type Snapshot struct {
	UserID        string
	SuperAdmin    bool
	HasMembership bool
	Role          Role
	TenantID      string
	Grants        map[Permission]struct{}
}

// DenySnapshot returns the conservative posture for userID: everything false,
// everything empty. Used before the first refresh and after lookup failures.
func DenySnapshot(userID string) Snapshot {
	return Snapshot{UserID: userID}
}

// GrantSet builds a grant lookup set from a permission list.
func GrantSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// HasGrant reports whether p is in the snapshot's grant set.
func (s Snapshot) HasGrant(p Permission) bool {
	_, ok := s.Grants[p]
	return ok
}

// GrantList returns the grant set as a sorted slice.
func (s Snapshot) GrantList() []Permission {
	out := make([]Permission, 0, len(s.Grants))
	for p := range s.Grants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// RESOLVER
// ============================================================================

// Resolver is the synchronous decision surface over one snapshot. It is a
// pure value: construct one directly in tests with any combination of role,
// grants, super-admin flag and selection. Route guards and UI conditionals
// query it on every render, so every method is allocation-free.
type Resolver struct {
	catalog   *Catalog
	snap      Snapshot
	selection *TenantSelection
}

// NewResolver builds a resolver over catalog and snap. selection is the
// super-admin impersonation target and may be nil.
func NewResolver(catalog *Catalog, snap Snapshot, selection *TenantSelection) *Resolver {
	return &Resolver{catalog: catalog, snap: snap, selection: selection}
}

// Snapshot returns the underlying identity snapshot.
func (r *Resolver) Snapshot() Snapshot { return r.snap }

// HasPermission decides (user, tenant, permission) for the current snapshot.
// Unknown catalog keys fail loud; super admins bypass everything; grants are
// additive on top of the role baseline; no membership means no role baseline.
func (r *Resolver) HasPermission(p Permission) (bool, error) {
	if !r.catalog.Contains(p) {
		return false, &UnknownPermissionError{Permission: p}
	}
	if r.snap.SuperAdmin {
		return true, nil
	}
	if r.snap.HasGrant(p) {
		return true, nil
	}
	if !r.snap.HasMembership {
		return false, nil
	}
	return r.catalog.RoleHas(r.snap.Role, p), nil
}

// HasAny reports whether any of ps is held. Unknown keys fail before any
// allow/deny substitution.
func (r *Resolver) HasAny(ps ...Permission) (bool, error) {
	matched := false
	for _, p := range ps {
		ok, err := r.HasPermission(p)
		if err != nil {
			return false, err
		}
		if ok {
			matched = true
		}
	}
	return matched, nil
}

// HasAll reports whether every one of ps is held.
func (r *Resolver) HasAll(ps ...Permission) (bool, error) {
	all := true
	for _, p := range ps {
		ok, err := r.HasPermission(p)
		if err != nil {
			return false, err
		}
		if !ok {
			all = false
		}
	}
	return all, nil
}

// Role-identity predicates reflect structural role only, never grants: a
// member granted every admin permission individually still reports
// IsAdmin() == false. Super admins report IsAdmin() == true.

func (r *Resolver) IsOwner() bool { return r.snap.HasMembership && r.snap.Role == RoleOwner }

func (r *Resolver) IsAdmin() bool {
	return r.snap.SuperAdmin || (r.snap.HasMembership && r.snap.Role == RoleAdmin)
}

func (r *Resolver) IsMember() bool { return r.snap.HasMembership && r.snap.Role == RoleMember }

func (r *Resolver) IsViewer() bool { return r.snap.HasMembership && r.snap.Role == RoleViewer }

// IsSuperAdmin reports the global bypass flag.
func (r *Resolver) IsSuperAdmin() bool { return r.snap.SuperAdmin }

// HasCapability evaluates a named capability as HasAny over its catalog set.
func (r *Resolver) HasCapability(name Capability) (bool, error) {
	set := r.catalog.Capability(name)
	if len(set) == 0 {
		return false, nil
	}
	return r.HasAny(set...)
}

func (r *Resolver) CanManageTeam() (bool, error) {
	return r.HasCapability(CapabilityManageTeam)
}

func (r *Resolver) CanManageSettings() (bool, error) {
	return r.HasCapability(CapabilityManageSettings)
}

func (r *Resolver) CanManageAgents() (bool, error) {
	return r.HasCapability(CapabilityManageAgents)
}

func (r *Resolver) CanViewSensitiveData() (bool, error) {
	return r.HasCapability(CapabilityViewSensitiveData)
}

// IsImpersonating reports whether a super-admin tenant selection is active.
// Selections carry no weight for non-super-admins and are ignored here.
func (r *Resolver) IsImpersonating() bool {
	return r.snap.SuperAdmin && r.selection != nil
}

// EffectiveTenantID is the tenant every tenant-scoped read must use: the
// impersonated tenant while a super-admin selection is active, otherwise the
// snapshot's own membership tenant. ok is false when neither applies.
func (r *Resolver) EffectiveTenantID() (string, bool) {
	if r.IsImpersonating() {
		return r.selection.TenantID, true
	}
	if r.snap.HasMembership {
		return r.snap.TenantID, true
	}
	return "", false
}

// Selection returns the active impersonation target, or nil.
func (r *Resolver) Selection() *TenantSelection {
	if !r.IsImpersonating() {
		return nil
	}
	return r.selection
}
