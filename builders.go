package permit

// Builders provide a fluent API for assembling configs and seed data, mostly
// in tests and tooling.

// ConfigBuilder builds a Config.
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: &Config{Version: 1}}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder { b.cfg.Version = v; return b }

func (b *ConfigBuilder) Permissions(ps ...string) *ConfigBuilder {
	b.cfg.Permissions = append(b.cfg.Permissions, ps...)
	return b
}

func (b *ConfigBuilder) Role(name Role, perms ...string) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, RoleConfig{Name: name, Permissions: perms})
	return b
}

func (b *ConfigBuilder) Capability(name string, entries ...string) *ConfigBuilder {
	if b.cfg.Capabilities == nil {
		b.cfg.Capabilities = make(map[string][]string)
	}
	b.cfg.Capabilities[name] = append(b.cfg.Capabilities[name], entries...)
	return b
}

func (b *ConfigBuilder) Cache(cfg CacheConfig) *ConfigBuilder { b.cfg.Cache = cfg; return b }
func (b *ConfigBuilder) Retry(cfg RetryConfig) *ConfigBuilder { b.cfg.Retry = cfg; return b }

func (b *ConfigBuilder) Tenant(id, name string) *ConfigBuilder {
	b.cfg.Tenants = append(b.cfg.Tenants, Tenant{ID: id, Name: name})
	return b
}

func (b *ConfigBuilder) Membership(userID, tenantID string, role Role) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, Membership{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		Status:   StatusActive,
	})
	return b
}

func (b *ConfigBuilder) PendingMembership(userID, tenantID string, role Role) *ConfigBuilder {
	b.cfg.Memberships = append(b.cfg.Memberships, Membership{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		Status:   StatusPending,
	})
	return b
}

func (b *ConfigBuilder) SuperAdmin(userID string) *ConfigBuilder {
	b.cfg.SuperAdmins = append(b.cfg.SuperAdmins, userID)
	return b
}

func (b *ConfigBuilder) Grant(userID, tenantID string, perms ...string) *ConfigBuilder {
	b.cfg.Grants = append(b.cfg.Grants, GrantConfig{UserID: userID, TenantID: tenantID, Permissions: perms})
	return b
}

func (b *ConfigBuilder) Build() *Config { return b.cfg }

// SnapshotBuilder builds a Snapshot for direct resolver construction.
type SnapshotBuilder struct {
	snap Snapshot
}

func NewSnapshotBuilder(userID string) *SnapshotBuilder {
	return &SnapshotBuilder{snap: DenySnapshot(userID)}
}

func (b *SnapshotBuilder) SuperAdmin() *SnapshotBuilder {
	b.snap.SuperAdmin = true
	return b
}

func (b *SnapshotBuilder) Membership(tenantID string, role Role) *SnapshotBuilder {
	b.snap.HasMembership = true
	b.snap.TenantID = tenantID
	b.snap.Role = role
	return b
}

func (b *SnapshotBuilder) Grants(perms ...Permission) *SnapshotBuilder {
	if b.snap.Grants == nil {
		b.snap.Grants = make(map[Permission]struct{}, len(perms))
	}
	for _, p := range perms {
		b.snap.Grants[p] = struct{}{}
	}
	return b
}

func (b *SnapshotBuilder) Build() Snapshot { return b.snap }
