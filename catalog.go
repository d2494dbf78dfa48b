package permit

import (
	"fmt"
	"sort"

	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Permission is an atomic capability identifier drawn from a closed catalog,
// keyed as "<resource>.<action>" (e.g. "agents.create").
type Permission string

// Role is one of the four fixed tenant roles. Privilege is defined purely by
// the role->permission matrix; no ordering between roles is assumed.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// RoleNone marks the absence of an active membership.
const RoleNone Role = ""

// ValidRole reports whether r is one of the four fixed roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// The dashboard's permission set. The catalog is compiled in and versioned
// with the binary; it is never user-editable.
const (
	PermAgentsView      Permission = "agents.view"
	PermAgentsCreate    Permission = "agents.create"
	PermAgentsUpdate    Permission = "agents.update"
	PermAgentsDelete    Permission = "agents.delete"
	PermConvView        Permission = "conversations.view"
	PermConvAssign      Permission = "conversations.assign"
	PermConvExport      Permission = "conversations.export"
	PermConvViewPhone   Permission = "conversations.view_phone"
	PermAnalyticsView   Permission = "analytics.view"
	PermAnalyticsExport Permission = "analytics.export"
	PermSettingsView    Permission = "settings.view"
	PermSettingsEdit    Permission = "settings.edit"
	PermTeamView        Permission = "team.view"
	PermTeamManage      Permission = "team.manage"
	PermBillingView     Permission = "billing.view"
	PermBillingManage   Permission = "billing.manage"
)

// Capability names a fixed subset of the catalog. The indirection lets the
// capability->permission mapping evolve without touching call sites.
type Capability string

const (
	CapabilityManageTeam        Capability = "manage_team"
	CapabilityManageSettings    Capability = "manage_settings"
	CapabilityManageAgents      Capability = "manage_agents"
	CapabilityViewSensitiveData Capability = "view_sensitive_data"
)

// ============================================================================
// CATALOG
// ============================================================================

// Catalog is the closed set of permission identifiers plus the static
// role->permission matrix and the named capability sets. Built once at
// process start and never mutated afterwards.
type Catalog struct {
	permissions  map[Permission]struct{}
	matrix       map[Role]map[Permission]struct{}
	capabilities map[Capability][]Permission
}

func allPermissions() []Permission {
	return []Permission{
		PermAgentsView, PermAgentsCreate, PermAgentsUpdate, PermAgentsDelete,
		PermConvView, PermConvAssign, PermConvExport, PermConvViewPhone,
		PermAnalyticsView, PermAnalyticsExport,
		PermSettingsView, PermSettingsEdit,
		PermTeamView, PermTeamManage,
		PermBillingView, PermBillingManage,
	}
}

// DefaultCatalog returns the compiled-in catalog and matrix.
func DefaultCatalog() *Catalog {
	viewer := []Permission{PermAgentsView, PermConvView, PermAnalyticsView, PermSettingsView, PermTeamView}
	member := append(append([]Permission{}, viewer...),
		PermAgentsCreate, PermAgentsUpdate, PermConvAssign, PermConvExport)
	admin := append(append([]Permission{}, member...),
		PermAgentsDelete, PermConvViewPhone, PermAnalyticsExport, PermSettingsEdit, PermTeamManage, PermBillingView)
	owner := append(append([]Permission{}, admin...), PermBillingManage)

	c, err := NewCatalog(allPermissions(), map[Role][]Permission{
		RoleOwner:  owner,
		RoleAdmin:  admin,
		RoleMember: member,
		RoleViewer: viewer,
	}, map[Capability][]Permission{
		CapabilityManageTeam:        {PermTeamManage},
		CapabilityManageSettings:    {PermSettingsEdit},
		CapabilityManageAgents:      {PermAgentsCreate, PermAgentsUpdate, PermAgentsDelete},
		CapabilityViewSensitiveData: {PermConvViewPhone, PermBillingView},
	})
	if err != nil {
		// The compiled-in matrix only references compiled-in permissions.
		panic(err)
	}
	return c
}

// NewCatalog builds a catalog from an explicit permission set, matrix and
// capability map. Every matrix and capability entry must be a member of the
// permission set; a stray identifier fails construction with
// UnknownPermission so typos surface at startup, not at check time.
func NewCatalog(permissions []Permission, matrix map[Role][]Permission, capabilities map[Capability][]Permission) (*Catalog, error) {
	c := &Catalog{
		permissions:  make(map[Permission]struct{}, len(permissions)),
		matrix:       make(map[Role]map[Permission]struct{}, len(matrix)),
		capabilities: make(map[Capability][]Permission, len(capabilities)),
	}
	for _, p := range permissions {
		c.permissions[p] = struct{}{}
	}
	for role, perms := range matrix {
		if !ValidRole(role) {
			return nil, fmt.Errorf("invalid role in matrix: %s", role)
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			if _, ok := c.permissions[p]; !ok {
				return nil, &UnknownPermissionError{Permission: p}
			}
			set[p] = struct{}{}
		}
		c.matrix[role] = set
	}
	for name, perms := range capabilities {
		list := make([]Permission, 0, len(perms))
		for _, p := range perms {
			if _, ok := c.permissions[p]; !ok {
				return nil, &UnknownPermissionError{Permission: p}
			}
			list = append(list, p)
		}
		c.capabilities[name] = list
	}
	return c, nil
}

// Contains reports whether p is a member of the catalog.
func (c *Catalog) Contains(p Permission) bool {
	_, ok := c.permissions[p]
	return ok
}

// RoleHas reports whether the matrix grants p to role by default.
func (c *Catalog) RoleHas(role Role, p Permission) bool {
	set, ok := c.matrix[role]
	if !ok {
		return false
	}
	_, ok = set[p]
	return ok
}

// Permissions returns the full catalog in sorted order.
func (c *Catalog) Permissions() []Permission {
	out := make([]Permission, 0, len(c.permissions))
	for p := range c.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RolePermissions returns the default permission set for role, sorted.
func (c *Catalog) RolePermissions(role Role) []Permission {
	set := c.matrix[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capability returns the permission set behind a named capability.
func (c *Catalog) Capability(name Capability) []Permission {
	return c.capabilities[name]
}

// Expand resolves a permission pattern ("agents.*", "*") against the catalog.
// A literal key expands to itself when present. Patterns are a configuration
// convenience only; check-time identifiers are always concrete.
func (c *Catalog) Expand(pattern string) ([]Permission, error) {
	if !utils.IsPattern(pattern) {
		p := Permission(pattern)
		if !c.Contains(p) {
			return nil, &UnknownPermissionError{Permission: p}
		}
		return []Permission{p}, nil
	}
	out := make([]Permission, 0)
	for _, p := range c.Permissions() {
		if utils.MatchKey(string(p), pattern) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, &UnknownPermissionError{Permission: Permission(pattern)}
	}
	return out, nil
}
