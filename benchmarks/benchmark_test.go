package benchmark

import (
	"context"
	"testing"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/stores"
)

func setupSession(b *testing.B) *permit.Session {
	ctx := context.Background()
	dir := stores.NewMemoryDirectory()
	_ = dir.SaveTenant(ctx, permit.Tenant{ID: "acme", Name: "ACME"})
	_ = dir.SaveMembership(ctx, permit.Membership{
		UserID: "alice", TenantID: "acme", Role: permit.RoleMember, Status: permit.StatusActive,
	})
	_ = dir.ReplaceGrants(ctx, "alice", "acme", []permit.Permission{permit.PermAnalyticsExport})

	session, err := permit.NewSession(dir, permit.DefaultCatalog())
	if err != nil {
		b.Fatalf("new session: %v", err)
	}
	if err := session.Refresh(ctx, "alice"); err != nil {
		b.Fatalf("refresh: %v", err)
	}
	return session
}

func BenchmarkHasPermissionRole(b *testing.B) {
	session := setupSession(b)
	resolver := session.Current()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = resolver.HasPermission(permit.PermConvView)
	}
}

func BenchmarkHasPermissionGrant(b *testing.B) {
	session := setupSession(b)
	resolver := session.Current()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = resolver.HasPermission(permit.PermAnalyticsExport)
	}
}

func BenchmarkHasAll(b *testing.B) {
	session := setupSession(b)
	resolver := session.Current()
	perms := []permit.Permission{permit.PermConvView, permit.PermAgentsView, permit.PermAnalyticsExport}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = resolver.HasAll(perms...)
	}
}

func BenchmarkRefresh(b *testing.B) {
	session := setupSession(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = session.Refresh(ctx, "alice")
	}
}

func BenchmarkRefreshCached(b *testing.B) {
	ctx := context.Background()
	dir := stores.NewMemoryDirectory()
	_ = dir.SaveTenant(ctx, permit.Tenant{ID: "acme", Name: "ACME"})
	_ = dir.SaveMembership(ctx, permit.Membership{
		UserID: "alice", TenantID: "acme", Role: permit.RoleMember, Status: permit.StatusActive,
	})

	cache, err := permit.NewSnapshotCache(permit.CacheConfig{})
	if err != nil {
		b.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	session, err := permit.NewSession(dir, permit.DefaultCatalog(), permit.WithSnapshotCache(cache))
	if err != nil {
		b.Fatalf("new session: %v", err)
	}
	if err := session.Refresh(ctx, "alice"); err != nil {
		b.Fatalf("refresh: %v", err)
	}
	cache.Wait()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = session.Refresh(ctx, "alice")
	}
}

func BenchmarkCasbinRBAC(b *testing.B) {
	modelText := `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

	m, _ := model.NewModelFromString(modelText)
	e, _ := casbin.NewEnforcer(m)
	_, _ = e.AddPolicy("member", "acme", "conversations", "view")
	_, _ = e.AddGroupingPolicy("alice", "member", "acme")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = e.Enforce("alice", "acme", "conversations", "view")
	}
}
