package permit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// fakeDirectory is an in-package Directory test double with error injection
// and a one-shot gate for exercising out-of-order refreshes.
type fakeDirectory struct {
	mu          sync.Mutex
	superAdmins map[string]bool
	memberships map[string]Membership
	grants      map[string][]Permission
	tenants     []Tenant

	err      error // all reads fail while set
	failLeft int   // GetSuperAdminStatus fails this many more times
	lookups  int   // GetActiveMembership call count

	blockNext bool
	entered   chan struct{}
	gate      chan struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		superAdmins: make(map[string]bool),
		memberships: make(map[string]Membership),
		grants:      make(map[string][]Permission),
	}
}

func (d *fakeDirectory) GetSuperAdminStatus(ctx context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.failLeft > 0 {
		d.failLeft--
		return false, errors.New("transient")
	}
	return d.superAdmins[userID], nil
}

func (d *fakeDirectory) GetActiveMembership(ctx context.Context, userID string) (*Membership, error) {
	d.mu.Lock()
	block := d.blockNext
	if block {
		d.blockNext = false
	}
	d.lookups++
	err := d.err
	m, ok := d.memberships[userID]
	d.mu.Unlock()
	if block {
		close(d.entered)
		<-d.gate
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	dup := m
	return &dup, nil
}

func (d *fakeDirectory) ListGrants(ctx context.Context, userID, tenantID string) ([]Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]Permission(nil), d.grants[userID+"|"+tenantID]...), nil
}

func (d *fakeDirectory) ListGrantsAdmin(ctx context.Context, tenantID string) (map[string][]Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string][]Permission)
	for key, perms := range d.grants {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) == 2 && parts[1] == tenantID {
			out[parts[0]] = append([]Permission(nil), perms...)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ReplaceGrants(ctx context.Context, userID, tenantID string, perms []Permission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if m, ok := d.memberships[userID]; ok && m.TenantID == tenantID && m.Role == RoleOwner {
		return ErrForbidden
	}
	d.grants[userID+"|"+tenantID] = append([]Permission(nil), perms...)
	return nil
}

func (d *fakeDirectory) ListTenantsForSuperAdmin(ctx context.Context) ([]Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]Tenant(nil), d.tenants...), nil
}

func (d *fakeDirectory) setError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDirectory) membershipLookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

func seedMember(d *fakeDirectory, userID, tenantID string, role Role) {
	d.memberships[userID] = Membership{UserID: userID, TenantID: tenantID, Role: role, Status: StatusActive}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleMember)
	dir.grants["alice|t1"] = []Permission{PermTeamManage}

	s, err := NewSession(dir, DefaultCatalog())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	// deny posture before the first refresh
	if ok, _ := s.Current().HasPermission(PermAgentsView); ok {
		t.Fatalf("pre-refresh resolver must deny")
	}

	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	r := s.Current()
	if !r.IsMember() {
		t.Fatalf("expected member role after refresh")
	}
	if ok, _ := r.HasPermission(PermTeamManage); !ok {
		t.Fatalf("grant fetched in the same refresh must be visible")
	}
	if s.LastError() != nil {
		t.Fatalf("unexpected LastError: %v", s.LastError())
	}
	if id, ok := s.EffectiveTenantID(); !ok || id != "t1" {
		t.Fatalf("effective tenant: %q ok=%v", id, ok)
	}
}

func TestRefreshFailureDeniesAndRecovers(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleOwner)

	s, _ := NewSession(dir, DefaultCatalog())
	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	dir.setError(errors.New("connection reset"))
	err := s.Refresh(ctx, "alice")
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
	// never fail open: the previous owner snapshot must be gone
	if ok, _ := s.Current().HasPermission(PermAgentsView); ok {
		t.Fatalf("deny posture must replace the stale allow state")
	}
	if s.LastError() == nil {
		t.Fatalf("LastError should surface the retryable indicator")
	}

	dir.setError(nil)
	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("recovery refresh: %v", err)
	}
	if ok, _ := s.Current().HasPermission(PermAgentsView); !ok {
		t.Fatalf("expected allow after recovery")
	}
	if s.LastError() != nil {
		t.Fatalf("LastError should clear on success")
	}
}

func TestRefreshWithRetryRecovers(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleViewer)
	dir.failLeft = 2

	s, _ := NewSession(dir, DefaultCatalog(), WithRetry(RetryConfig{MaxAttempts: 3, BackoffMillis: 1, MaxBackoffMillis: 2}))
	if err := s.RefreshWithRetry(ctx, "alice"); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if !s.Current().IsViewer() {
		t.Fatalf("expected viewer snapshot after retries")
	}
}

func TestStaleRefreshDiscarded(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleOwner)
	seedMember(dir, "bob", "t2", RoleViewer)

	s, _ := NewSession(dir, DefaultCatalog())

	// R1: slow refresh for alice, parked inside the membership lookup
	dir.entered = make(chan struct{})
	dir.gate = make(chan struct{})
	dir.mu.Lock()
	dir.blockNext = true
	dir.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx, "alice") }()
	<-dir.entered

	// R2: fast login as bob supersedes R1
	if err := s.Login(ctx, "bob"); err != nil {
		t.Fatalf("login bob: %v", err)
	}

	close(dir.gate)
	if err := <-done; err != nil {
		t.Fatalf("superseded refresh should not error: %v", err)
	}

	snap := s.Current().Snapshot()
	if snap.UserID != "bob" || snap.Role != RoleViewer {
		t.Fatalf("stale alice refresh overwrote bob: %+v", snap)
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.superAdmins["root"] = true

	s, _ := NewSession(dir, DefaultCatalog())
	if err := s.Refresh(ctx, "root"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !s.SelectTenant("t-42", "Acme") {
		t.Fatalf("super-admin selection should apply")
	}

	s.Logout()
	r := s.Current()
	if r.IsSuperAdmin() || r.IsImpersonating() {
		t.Fatalf("logout must drop the bypass flag and the selection")
	}
	if _, ok := r.EffectiveTenantID(); ok {
		t.Fatalf("no effective tenant after logout")
	}
}

func TestLoginDropsPriorSelection(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.superAdmins["root"] = true
	seedMember(dir, "alice", "t1", RoleMember)

	s, _ := NewSession(dir, DefaultCatalog())
	_ = s.Refresh(ctx, "root")
	s.SelectTenant("t-42", "Acme")

	if err := s.Login(ctx, "alice"); err != nil {
		t.Fatalf("login alice: %v", err)
	}
	if s.Current().IsImpersonating() {
		t.Fatalf("selection must not survive an identity switch")
	}
	if id, ok := s.EffectiveTenantID(); !ok || id != "t1" {
		t.Fatalf("expected alice's own tenant, got %q ok=%v", id, ok)
	}
}

func TestSelectTenantNonSuperAdmin(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleAdmin)

	s, _ := NewSession(dir, DefaultCatalog())
	_ = s.Refresh(ctx, "alice")

	if s.SelectTenant("t-42", "Acme") {
		t.Fatalf("non-super-admin selection must be a no-op")
	}
	if id, _ := s.EffectiveTenantID(); id != "t1" {
		t.Fatalf("effective tenant must stay t1, got %s", id)
	}
}

func TestListTenantsGate(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.tenants = []Tenant{{ID: "t1", Name: "One"}, {ID: "t2", Name: "Two"}}
	dir.superAdmins["root"] = true
	seedMember(dir, "alice", "t1", RoleOwner)

	s, _ := NewSession(dir, DefaultCatalog())
	_ = s.Refresh(ctx, "alice")
	if _, err := s.ListTenants(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("owner without the bypass flag must not list tenants, got %v", err)
	}

	_ = s.Login(ctx, "root")
	tenants, err := s.ListTenants(ctx)
	if err != nil || len(tenants) != 2 {
		t.Fatalf("super admin tenant list: %v %v", tenants, err)
	}
}

func TestPendingMembershipIsNoMembership(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.memberships["alice"] = Membership{UserID: "alice", TenantID: "t1", Role: RoleAdmin, Status: StatusPending}

	s, _ := NewSession(dir, DefaultCatalog())
	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	r := s.Current()
	if r.IsAdmin() {
		t.Fatalf("pending membership must carry no role")
	}
	if _, ok := r.EffectiveTenantID(); ok {
		t.Fatalf("pending membership must not produce an effective tenant")
	}
}

func TestSnapshotCacheShortCircuitsRefresh(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	seedMember(dir, "alice", "t1", RoleMember)

	cache, err := NewSnapshotCache(CacheConfig{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	s, _ := NewSession(dir, DefaultCatalog(), WithSnapshotCache(cache))
	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cache.Wait()
	before := dir.membershipLookups()

	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("cached refresh: %v", err)
	}
	if got := dir.membershipLookups(); got != before {
		t.Fatalf("cached refresh hit the directory: %d -> %d", before, got)
	}

	// invalidation forces the next refresh back to the directory
	s.InvalidateSnapshot("alice")
	cache.Wait()
	if err := s.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("post-invalidate refresh: %v", err)
	}
	if got := dir.membershipLookups(); got != before+1 {
		t.Fatalf("invalidated refresh should hit the directory: %d -> %d", before, got)
	}
}
