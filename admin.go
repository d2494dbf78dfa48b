package permit

import (
	"context"
	"fmt"
	"sort"

	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/utils"
)

// ============================================================================
// GRANT EDITING SURFACE
// ============================================================================

// PermissionRow is one line of the editor: a catalog permission with its
// derivation for the target user. Role-derived rows render locked with a role
// badge; grant rows toggle independently.
type PermissionRow struct {
	Permission Permission `json:"permission"`
	Locked     bool       `json:"locked"`               // derived from the role baseline, not removable
	RoleBadge  Role       `json:"role_badge,omitempty"` // set when Locked
	Granted    bool       `json:"granted"`              // explicit grant on top of the baseline
}

// EditorView is the full permission surface for one (tenant, user) pair,
// grouped by resource key for rendering.
type EditorView struct {
	UserID   string                     `json:"user_id"`
	TenantID string                     `json:"tenant_id"`
	Role     Role                       `json:"role"`
	Sections map[string][]PermissionRow `json:"sections"`
}

// GrantEditor is the administrative surface behind the permissions-management
// screen. It never mutates role baselines; it only replaces the additive
// grant set, and it refuses to touch owners at all.
type GrantEditor struct {
	dir     Directory
	catalog *Catalog
	logger  logger.Logger
}

// NewGrantEditor builds an editor over dir and catalog.
func NewGrantEditor(dir Directory, catalog *Catalog, opts ...GrantEditorOption) *GrantEditor {
	e := &GrantEditor{dir: dir, catalog: catalog, logger: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GrantEditorOption configures a GrantEditor.
type GrantEditorOption func(*GrantEditor)

// WithEditorLogger installs a logger on the editor.
func WithEditorLogger(l logger.Logger) GrantEditorOption {
	return func(e *GrantEditor) { e.logger = l }
}

// View assembles the editor rows for the target user in tenantID. The acting
// resolver must hold the team-manage capability (owners and admins do by
// matrix; super admins by bypass), otherwise ErrForbidden.
func (e *GrantEditor) View(ctx context.Context, actor *Resolver, tenantID, userID string) (*EditorView, error) {
	if err := e.requireEditor(actor); err != nil {
		return nil, err
	}
	membership, err := e.dir.GetActiveMembership(ctx, userID)
	if err != nil {
		return nil, lookupFailed("active membership", err)
	}
	role := RoleNone
	if membership != nil && membership.TenantID == tenantID && membership.Status == StatusActive {
		role = membership.Role
	}
	grants, err := e.dir.ListGrants(ctx, userID, tenantID)
	if err != nil {
		return nil, lookupFailed("list grants", err)
	}
	granted := GrantSet(grants...)

	view := &EditorView{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		Sections: make(map[string][]PermissionRow),
	}
	for _, p := range e.catalog.Permissions() {
		row := PermissionRow{Permission: p}
		if role != RoleNone && e.catalog.RoleHas(role, p) {
			row.Locked = true
			row.RoleBadge = role
		} else if _, ok := granted[p]; ok {
			row.Granted = true
		}
		res := utils.ResourceOf(string(p))
		view.Sections[res] = append(view.Sections[res], row)
	}
	return view, nil
}

// Save replaces the full grant set for (userID, tenantID) with perms,
// delete-then-insert, never a partial diff. Unknown catalog keys fail loud;
// role-derived permissions are stripped rather than stored redundantly;
// owner targets are rejected with ErrForbidden and no partial effect.
func (e *GrantEditor) Save(ctx context.Context, actor *Resolver, tenantID, userID string, perms []Permission) error {
	if err := e.requireEditor(actor); err != nil {
		return err
	}
	for _, p := range perms {
		if !e.catalog.Contains(p) {
			return &UnknownPermissionError{Permission: p}
		}
	}
	membership, err := e.dir.GetActiveMembership(ctx, userID)
	if err != nil {
		return lookupFailed("active membership", err)
	}
	if membership != nil && membership.TenantID == tenantID && membership.Status == StatusActive {
		if membership.Role == RoleOwner {
			return fmt.Errorf("%w: owner permissions are role-derived and not editable", ErrForbidden)
		}
		perms = e.stripRoleDerived(membership.Role, perms)
	}
	if err := e.dir.ReplaceGrants(ctx, userID, tenantID, dedupe(perms)); err != nil {
		return err
	}
	e.logger.Info("grants replaced", "tenant_id", tenantID, "user_id", userID, "count", len(perms))
	return nil
}

// BulkView returns the grant sets of every user in the tenant, feeding the
// management screen's overview table.
func (e *GrantEditor) BulkView(ctx context.Context, actor *Resolver, tenantID string) (map[string][]Permission, error) {
	if err := e.requireEditor(actor); err != nil {
		return nil, err
	}
	grants, err := e.dir.ListGrantsAdmin(ctx, tenantID)
	if err != nil {
		return nil, lookupFailed("list grants admin", err)
	}
	for user := range grants {
		sort.Slice(grants[user], func(i, j int) bool { return grants[user][i] < grants[user][j] })
	}
	return grants, nil
}

func (e *GrantEditor) requireEditor(actor *Resolver) error {
	if actor == nil {
		return ErrForbidden
	}
	ok, err := actor.CanManageTeam()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: grant editing requires team management", ErrForbidden)
	}
	return nil
}

func (e *GrantEditor) stripRoleDerived(role Role, perms []Permission) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if e.catalog.RoleHas(role, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func dedupe(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
