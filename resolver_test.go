package permit

import (
	"testing"
)

func resolverFor(t *testing.T, snap Snapshot, sel *TenantSelection) *Resolver {
	t.Helper()
	return NewResolver(DefaultCatalog(), snap, sel)
}

func mustCheck(t *testing.T, r *Resolver, p Permission) bool {
	t.Helper()
	ok, err := r.HasPermission(p)
	if err != nil {
		t.Fatalf("HasPermission(%s): %v", p, err)
	}
	return ok
}

func TestViewerDefaults(t *testing.T) {
	// scenario: viewer with no grants
	r := resolverFor(t, Snapshot{UserID: "u1", HasMembership: true, Role: RoleViewer, TenantID: "t1"}, nil)

	if !mustCheck(t, r, PermAgentsView) {
		t.Fatalf("viewer should see agents")
	}
	if mustCheck(t, r, PermAgentsDelete) {
		t.Fatalf("viewer must not delete agents")
	}
}

func TestGrantOnTopOfRole(t *testing.T) {
	// scenario: member granted team.manage beyond the member matrix
	r := resolverFor(t, Snapshot{
		UserID: "u1", HasMembership: true, Role: RoleMember, TenantID: "t1",
		Grants: GrantSet(PermTeamManage),
	}, nil)

	if !mustCheck(t, r, PermTeamManage) {
		t.Fatalf("explicit grant should allow team.manage for a member")
	}
	if mustCheck(t, r, PermBillingManage) {
		t.Fatalf("ungranted owner-only permission must stay denied")
	}
}

func TestSuperAdminBypassesFullCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	r := NewResolver(catalog, Snapshot{UserID: "root", SuperAdmin: true}, nil)
	for _, p := range catalog.Permissions() {
		if !mustCheck(t, r, p) {
			t.Fatalf("super admin denied %s", p)
		}
	}
}

func TestNoMembershipDeniesEverything(t *testing.T) {
	catalog := DefaultCatalog()
	r := NewResolver(catalog, DenySnapshot("u1"), nil)
	for _, p := range catalog.Permissions() {
		if mustCheck(t, r, p) {
			t.Fatalf("membership-less user allowed %s", p)
		}
	}
}

func TestUnknownPermissionFailsLoud(t *testing.T) {
	r := resolverFor(t, Snapshot{UserID: "root", SuperAdmin: true}, nil)
	if _, err := r.HasPermission("agents.explode"); !IsUnknownPermission(err) {
		t.Fatalf("expected UnknownPermission even under super-admin bypass, got %v", err)
	}

	if _, err := r.HasAny(PermAgentsView, "agents.explode"); !IsUnknownPermission(err) {
		t.Fatalf("HasAny must fail on unknown keys, got %v", err)
	}
	if _, err := r.HasAll(PermAgentsView, "agents.explode"); !IsUnknownPermission(err) {
		t.Fatalf("HasAll must fail on unknown keys, got %v", err)
	}
}

func TestHasAnyHasAll(t *testing.T) {
	r := resolverFor(t, Snapshot{UserID: "u1", HasMembership: true, Role: RoleViewer, TenantID: "t1"}, nil)

	ok, err := r.HasAny(PermAgentsDelete, PermAgentsView)
	if err != nil || !ok {
		t.Fatalf("HasAny should match on second key: %v %v", ok, err)
	}
	ok, err = r.HasAll(PermAgentsView, PermConvView)
	if err != nil || !ok {
		t.Fatalf("HasAll should pass for two viewer defaults: %v %v", ok, err)
	}
	ok, err = r.HasAll(PermAgentsView, PermAgentsDelete)
	if err != nil || ok {
		t.Fatalf("HasAll must fail when one key is denied: %v %v", ok, err)
	}
}

func TestGrantMonotonicity(t *testing.T) {
	catalog := DefaultCatalog()
	base := Snapshot{UserID: "u1", HasMembership: true, Role: RoleMember, TenantID: "t1"}
	granted := base
	granted.Grants = GrantSet(PermAnalyticsExport)

	before := NewResolver(catalog, base, nil)
	after := NewResolver(catalog, granted, nil)
	for _, p := range catalog.Permissions() {
		wasAllowed := mustCheck(t, before, p)
		isAllowed := mustCheck(t, after, p)
		if wasAllowed && !isAllowed {
			t.Fatalf("adding a grant revoked %s", p)
		}
	}
	if !mustCheck(t, after, PermAnalyticsExport) {
		t.Fatalf("granted permission not allowed")
	}
}

func TestRolePredicatesIgnoreGrants(t *testing.T) {
	catalog := DefaultCatalog()
	// a member holding every admin permission as explicit grants
	snap := Snapshot{
		UserID: "u1", HasMembership: true, Role: RoleMember, TenantID: "t1",
		Grants: GrantSet(catalog.RolePermissions(RoleAdmin)...),
	}
	r := NewResolver(catalog, snap, nil)

	if r.IsAdmin() {
		t.Fatalf("grants must not make a member structurally admin")
	}
	if !r.IsMember() {
		t.Fatalf("member predicate should hold")
	}
	// their effective permissions still include the granted admin surface
	if !mustCheck(t, r, PermTeamManage) {
		t.Fatalf("granted team.manage should resolve true")
	}
}

func TestSuperAdminIsAdminPredicate(t *testing.T) {
	r := resolverFor(t, Snapshot{UserID: "root", SuperAdmin: true}, nil)
	if !r.IsAdmin() {
		t.Fatalf("super admin should report IsAdmin")
	}
	if r.IsOwner() || r.IsMember() || r.IsViewer() {
		t.Fatalf("super admin without membership has no structural role")
	}
}

func TestCapabilityFlags(t *testing.T) {
	admin := resolverFor(t, Snapshot{UserID: "u1", HasMembership: true, Role: RoleAdmin, TenantID: "t1"}, nil)
	viewer := resolverFor(t, Snapshot{UserID: "u2", HasMembership: true, Role: RoleViewer, TenantID: "t1"}, nil)

	if ok, err := admin.CanManageTeam(); err != nil || !ok {
		t.Fatalf("admin should manage team: %v %v", ok, err)
	}
	if ok, err := viewer.CanManageTeam(); err != nil || ok {
		t.Fatalf("viewer must not manage team: %v %v", ok, err)
	}
	if ok, err := viewer.CanViewSensitiveData(); err != nil || ok {
		t.Fatalf("viewer must not see sensitive data: %v %v", ok, err)
	}
	if ok, err := admin.CanViewSensitiveData(); err != nil || !ok {
		t.Fatalf("admin should see sensitive data: %v %v", ok, err)
	}
}

func TestEffectiveTenant(t *testing.T) {
	// scenario: super admin with no membership impersonating t-42
	sel := &TenantSelection{TenantID: "t-42", TenantName: "Acme"}
	r := resolverFor(t, Snapshot{UserID: "root", SuperAdmin: true}, sel)

	id, ok := r.EffectiveTenantID()
	if !ok || id != "t-42" {
		t.Fatalf("expected effective tenant t-42, got %q ok=%v", id, ok)
	}
	if !r.IsImpersonating() {
		t.Fatalf("selection plus super-admin flag should report impersonation")
	}
	if !mustCheck(t, r, PermSettingsEdit) {
		t.Fatalf("bypass must be unaffected by the selection")
	}

	// a regular member's selection carries no weight
	member := resolverFor(t, Snapshot{UserID: "u1", HasMembership: true, Role: RoleMember, TenantID: "t1"}, sel)
	if member.IsImpersonating() {
		t.Fatalf("non-super-admin must never impersonate")
	}
	id, ok = member.EffectiveTenantID()
	if !ok || id != "t1" {
		t.Fatalf("member's effective tenant must stay t1, got %q ok=%v", id, ok)
	}
	if member.Selection() != nil {
		t.Fatalf("selection must not be visible on a non-super-admin resolver")
	}

	// no membership, no selection
	none := resolverFor(t, DenySnapshot("u2"), nil)
	if _, ok := none.EffectiveTenantID(); ok {
		t.Fatalf("no membership and no selection means no effective tenant")
	}
}
