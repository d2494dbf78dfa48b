package permit

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the startup configuration: the permission catalog, the static
// role->permission matrix, capability definitions, engine tuning, and
// optional seed data for development and tooling. Loaded once at process
// start; the built catalog is immutable afterwards.
type Config struct {
	Version      uint16              `json:"version" yaml:"version"`
	Permissions  []string            `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles        []RoleConfig        `json:"roles" yaml:"roles"`
	Capabilities map[string][]string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Cache        CacheConfig         `json:"cache,omitempty" yaml:"cache,omitempty"`
	Retry        RetryConfig         `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Seed data, applied by Apply. Used by the memory store in development
	// and by permit-config apply.
	Tenants     []Tenant      `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Memberships []Membership  `json:"memberships,omitempty" yaml:"memberships,omitempty"`
	SuperAdmins []string      `json:"super_admins,omitempty" yaml:"super_admins,omitempty"`
	Grants      []GrantConfig `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// RoleConfig maps one role to its default permissions. Entries may be
// concrete keys or patterns ("agents.*") expanded against the catalog.
type RoleConfig struct {
	Name        Role     `json:"name" yaml:"name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// GrantConfig seeds explicit grants for one (user, tenant) pair.
type GrantConfig struct {
	UserID      string   `json:"user_id" yaml:"user_id"`
	TenantID    string   `json:"tenant_id" yaml:"tenant_id"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from the compact binary format.
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	return decodeBinaryConfig(bytes.NewReader(data))
}

// ToYAML exports the config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// EncodeBinaryConfig encodes cfg to the binary format.
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeBinaryConfig(cfg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCatalog validates the config and constructs the catalog. An empty
// permission list falls back to the compiled-in set; an empty role list falls
// back to the compiled-in matrix. Any matrix or capability entry outside the
// permission set fails with UnknownPermission, so typos surface at startup.
func (c *Config) BuildCatalog() (*Catalog, error) {
	perms := make([]Permission, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		perms = append(perms, Permission(p))
	}
	if len(perms) == 0 {
		perms = allPermissions()
	}

	// A permission-only catalog used to expand patterns in role and
	// capability entries.
	base, err := NewCatalog(perms, nil, nil)
	if err != nil {
		return nil, err
	}

	def := DefaultCatalog()
	matrix := make(map[Role][]Permission, len(c.Roles))
	if len(c.Roles) == 0 {
		for _, role := range []Role{RoleOwner, RoleAdmin, RoleMember, RoleViewer} {
			matrix[role] = def.RolePermissions(role)
		}
	}
	for _, rc := range c.Roles {
		if !ValidRole(rc.Name) {
			return nil, fmt.Errorf("invalid role: %s", rc.Name)
		}
		expanded := make([]Permission, 0, len(rc.Permissions))
		for _, entry := range rc.Permissions {
			ps, err := base.Expand(entry)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", rc.Name, err)
			}
			expanded = append(expanded, ps...)
		}
		matrix[rc.Name] = expanded
	}

	capabilities := make(map[Capability][]Permission)
	if len(c.Capabilities) == 0 {
		for _, name := range []Capability{CapabilityManageTeam, CapabilityManageSettings, CapabilityManageAgents, CapabilityViewSensitiveData} {
			capabilities[name] = def.Capability(name)
		}
	}
	for name, entries := range c.Capabilities {
		expanded := make([]Permission, 0, len(entries))
		for _, entry := range entries {
			ps, err := base.Expand(entry)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", name, err)
			}
			expanded = append(expanded, ps...)
		}
		capabilities[Capability(name)] = expanded
	}

	return NewCatalog(perms, matrix, capabilities)
}

// Seeder receives config seed data. The memory and SQL directories both
// implement it alongside Directory.
type Seeder interface {
	SaveTenant(ctx context.Context, t Tenant) error
	SaveMembership(ctx context.Context, m Membership) error
	SetSuperAdmin(ctx context.Context, userID string, enabled bool) error
}

// SeedableDirectory is what Apply needs: a Directory that also accepts seed
// writes.
type SeedableDirectory interface {
	Directory
	Seeder
}

// Apply pushes the config's seed data into a directory. Grants go through
// ReplaceGrants so owner protection applies to seed data too.
func (c *Config) Apply(ctx context.Context, dir SeedableDirectory) error {
	for _, t := range c.Tenants {
		if err := dir.SaveTenant(ctx, t); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
	}
	for _, m := range c.Memberships {
		if err := dir.SaveMembership(ctx, m); err != nil {
			return fmt.Errorf("seed membership %s/%s: %w", m.UserID, m.TenantID, err)
		}
	}
	for _, id := range c.SuperAdmins {
		if err := dir.SetSuperAdmin(ctx, id, true); err != nil {
			return fmt.Errorf("seed super admin %s: %w", id, err)
		}
	}
	for _, g := range c.Grants {
		perms := make([]Permission, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			perms = append(perms, Permission(p))
		}
		if err := dir.ReplaceGrants(ctx, g.UserID, g.TenantID, perms); err != nil {
			return fmt.Errorf("seed grants %s/%s: %w", g.UserID, g.TenantID, err)
		}
	}
	return nil
}

// ============================================================================
// BINARY PROTOCOL
// ============================================================================

const (
	binaryMagic   = 0x504D // "PM"
	binaryVersion = 1
)

func encodeBinaryConfig(cfg *Config, w io.Writer) error {
	buf := &bytes.Buffer{}

	// Header: magic(2) + format version(2) + config version(2)
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	writeSection(buf, 0x01, func(b *bytes.Buffer) { encodeStrings(b, cfg.Permissions) })
	writeSection(buf, 0x02, func(b *bytes.Buffer) { encodeRoleConfigs(b, cfg.Roles) })
	writeSection(buf, 0x03, func(b *bytes.Buffer) { encodeCapabilities(b, cfg.Capabilities) })
	writeSection(buf, 0x04, func(b *bytes.Buffer) { encodeCacheConfig(b, &cfg.Cache) })
	writeSection(buf, 0x05, func(b *bytes.Buffer) { encodeRetryConfig(b, &cfg.Retry) })
	writeSection(buf, 0x06, func(b *bytes.Buffer) { encodeTenants(b, cfg.Tenants) })
	writeSection(buf, 0x07, func(b *bytes.Buffer) { encodeMemberships(b, cfg.Memberships) })
	writeSection(buf, 0x08, func(b *bytes.Buffer) { encodeStrings(b, cfg.SuperAdmins) })
	writeSection(buf, 0x09, func(b *bytes.Buffer) { encodeGrantConfigs(b, cfg.Grants) })

	_, err := w.Write(buf.Bytes())
	return err
}

func decodeBinaryConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}

	var magic, ver, cfgVer uint16
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfgVer)

	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", ver)
	}
	cfg.Version = cfgVer

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		var size uint32
		binary.Read(r, binary.LittleEndian, &size)
		data := make([]byte, size)
		io.ReadFull(r, data)

		switch tag {
		case 0x01:
			cfg.Permissions = decodeStrings(data)
		case 0x02:
			cfg.Roles = decodeRoleConfigs(data)
		case 0x03:
			cfg.Capabilities = decodeCapabilities(data)
		case 0x04:
			cfg.Cache = decodeCacheConfig(data)
		case 0x05:
			cfg.Retry = decodeRetryConfig(data)
		case 0x06:
			cfg.Tenants = decodeTenants(data)
		case 0x07:
			cfg.Memberships = decodeMemberships(data)
		case 0x08:
			cfg.SuperAdmins = decodeStrings(data)
		case 0x09:
			cfg.Grants = decodeGrantConfigs(data)
		}
	}

	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	r.Read(b)
	return string(b)
}

func encodeStrings(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func decodeStrings(data []byte) []string {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]string, count)
	for i := range out {
		out[i] = readString(r)
	}
	return out
}

func encodeRoleConfigs(buf *bytes.Buffer, roles []RoleConfig) {
	binary.Write(buf, binary.LittleEndian, uint16(len(roles)))
	for _, rc := range roles {
		writeString(buf, string(rc.Name))
		encodeStrings(buf, rc.Permissions)
	}
}

func decodeRoleConfigs(data []byte) []RoleConfig {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]RoleConfig, count)
	for i := range out {
		out[i].Name = Role(readString(r))
		var pc uint16
		binary.Read(r, binary.LittleEndian, &pc)
		out[i].Permissions = make([]string, pc)
		for j := range out[i].Permissions {
			out[i].Permissions[j] = readString(r)
		}
	}
	return out
}

func encodeCapabilities(buf *bytes.Buffer, caps map[string][]string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(caps)))
	for name, entries := range caps {
		writeString(buf, name)
		encodeStrings(buf, entries)
	}
}

func decodeCapabilities(data []byte) map[string][]string {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make(map[string][]string, count)
	for i := 0; i < int(count); i++ {
		name := readString(r)
		var pc uint16
		binary.Read(r, binary.LittleEndian, &pc)
		entries := make([]string, pc)
		for j := range entries {
			entries[j] = readString(r)
		}
		out[name] = entries
	}
	return out
}

func encodeCacheConfig(buf *bytes.Buffer, cfg *CacheConfig) {
	binary.Write(buf, binary.LittleEndian, cfg.NumCounters)
	binary.Write(buf, binary.LittleEndian, cfg.MaxCost)
	binary.Write(buf, binary.LittleEndian, cfg.BufferItems)
	binary.Write(buf, binary.LittleEndian, cfg.TTLMillis)
}

func decodeCacheConfig(data []byte) CacheConfig {
	r := bytes.NewReader(data)
	cfg := CacheConfig{}
	binary.Read(r, binary.LittleEndian, &cfg.NumCounters)
	binary.Read(r, binary.LittleEndian, &cfg.MaxCost)
	binary.Read(r, binary.LittleEndian, &cfg.BufferItems)
	binary.Read(r, binary.LittleEndian, &cfg.TTLMillis)
	return cfg
}

func encodeRetryConfig(buf *bytes.Buffer, cfg *RetryConfig) {
	binary.Write(buf, binary.LittleEndian, int32(cfg.MaxAttempts))
	binary.Write(buf, binary.LittleEndian, cfg.BackoffMillis)
	binary.Write(buf, binary.LittleEndian, cfg.MaxBackoffMillis)
}

func decodeRetryConfig(data []byte) RetryConfig {
	r := bytes.NewReader(data)
	cfg := RetryConfig{}
	var attempts int32
	binary.Read(r, binary.LittleEndian, &attempts)
	cfg.MaxAttempts = int(attempts)
	binary.Read(r, binary.LittleEndian, &cfg.BackoffMillis)
	binary.Read(r, binary.LittleEndian, &cfg.MaxBackoffMillis)
	return cfg
}

func encodeTenants(buf *bytes.Buffer, tenants []Tenant) {
	binary.Write(buf, binary.LittleEndian, uint16(len(tenants)))
	for _, t := range tenants {
		writeString(buf, t.ID)
		writeString(buf, t.Name)
	}
}

func decodeTenants(data []byte) []Tenant {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]Tenant, count)
	for i := range out {
		out[i].ID = readString(r)
		out[i].Name = readString(r)
	}
	return out
}

func encodeMemberships(buf *bytes.Buffer, memberships []Membership) {
	binary.Write(buf, binary.LittleEndian, uint16(len(memberships)))
	for _, m := range memberships {
		writeString(buf, m.UserID)
		writeString(buf, m.TenantID)
		writeString(buf, string(m.Role))
		writeString(buf, string(m.Status))
	}
}

func decodeMemberships(data []byte) []Membership {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]Membership, count)
	for i := range out {
		out[i].UserID = readString(r)
		out[i].TenantID = readString(r)
		out[i].Role = Role(readString(r))
		out[i].Status = MembershipStatus(readString(r))
	}
	return out
}

func encodeGrantConfigs(buf *bytes.Buffer, grants []GrantConfig) {
	binary.Write(buf, binary.LittleEndian, uint16(len(grants)))
	for _, g := range grants {
		writeString(buf, g.UserID)
		writeString(buf, g.TenantID)
		encodeStrings(buf, g.Permissions)
	}
}

func decodeGrantConfigs(data []byte) []GrantConfig {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	if count == 0 {
		return nil
	}
	out := make([]GrantConfig, count)
	for i := range out {
		out[i].UserID = readString(r)
		out[i].TenantID = readString(r)
		var pc uint16
		binary.Read(r, binary.LittleEndian, &pc)
		out[i].Permissions = make([]string, pc)
		for j := range out[i].Permissions {
			out[i].Permissions[j] = readString(r)
		}
	}
	return out
}
