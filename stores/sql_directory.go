package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLDirectory implements the Directory and Seeder contracts over SQL
// (squealx). The schema lives in sql_migrations.sql.
type SQLDirectory struct {
	db *squealx.DB
}

func NewSQLDirectory(db *squealx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (s *SQLDirectory) SaveTenant(ctx context.Context, t permit.Tenant) error {
	q := `INSERT INTO tenants(id, name, created_at) VALUES(:id, :name, :created_at)
	      ON CONFLICT(id) DO UPDATE SET name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"created_at": time.Now(),
	})
	return err
}

func (s *SQLDirectory) SaveMembership(ctx context.Context, m permit.Membership) error {
	now := time.Now()
	q := `INSERT INTO memberships(user_id, tenant_id, role, status, created_at, updated_at)
	      VALUES(:user_id, :tenant_id, :role, :status, :now, :now)
	      ON CONFLICT(user_id, tenant_id) DO UPDATE SET role = :role, status = :status, updated_at = :now`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":   m.UserID,
		"tenant_id": m.TenantID,
		"role":      string(m.Role),
		"status":    string(m.Status),
		"now":       now,
	})
	return err
}

func (s *SQLDirectory) SetSuperAdmin(ctx context.Context, userID string, enabled bool) error {
	if !enabled {
		q := `DELETE FROM super_admins WHERE user_id = :user_id`
		_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID})
		return err
	}
	q := `INSERT INTO super_admins(user_id, created_at) VALUES(:user_id, :created_at)
	      ON CONFLICT(user_id) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "created_at": time.Now()})
	return err
}

func (s *SQLDirectory) GetSuperAdminStatus(ctx context.Context, userID string) (bool, error) {
	q := `SELECT COUNT(1) FROM super_admins WHERE user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return false, err
	}
	defer r.Close()
	if !r.Next() {
		return false, nil
	}
	var n int
	if err := r.Scan(&n); err != nil {
		return false, err
	}
	return boolFromCount(n), nil
}

func (s *SQLDirectory) GetActiveMembership(ctx context.Context, userID string) (*permit.Membership, error) {
	q := `SELECT user_id, tenant_id, role, status, created_at, updated_at FROM memberships
	      WHERE user_id = :user_id AND status = :status`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"user_id": userID,
		"status":  string(permit.StatusActive),
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	var uid, tenant, role, status string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&uid, &tenant, &role, &status, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	return &permit.Membership{
		UserID:    uid,
		TenantID:  tenant,
		Role:      permit.Role(role),
		Status:    permit.MembershipStatus(status),
		CreatedAt: scanTime(createdRaw),
		UpdatedAt: scanTime(updatedRaw),
	}, nil
}

func (s *SQLDirectory) ListGrants(ctx context.Context, userID, tenantID string) ([]permit.Permission, error) {
	q := `SELECT permission FROM permission_grants
	      WHERE user_id = :user_id AND tenant_id = :tenant_id ORDER BY permission`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]permit.Permission, 0)
	for r.Next() {
		var p string
		if err := r.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, permit.Permission(p))
	}
	return out, nil
}

func (s *SQLDirectory) ListGrantsAdmin(ctx context.Context, tenantID string) (map[string][]permit.Permission, error) {
	q := `SELECT user_id, permission FROM permission_grants
	      WHERE tenant_id = :tenant_id ORDER BY user_id, permission`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make(map[string][]permit.Permission)
	for r.Next() {
		var user, p string
		if err := r.Scan(&user, &p); err != nil {
			return nil, err
		}
		out[user] = append(out[user], permit.Permission(p))
	}
	return out, nil
}

// ReplaceGrants swaps the full grant set for (user, tenant) in one
// transaction, so a shrinking edit can never leave stale rows behind.
func (s *SQLDirectory) ReplaceGrants(ctx context.Context, userID, tenantID string, perms []permit.Permission) error {
	role, err := s.membershipRole(ctx, userID, tenantID)
	if err != nil {
		return err
	}
	if role == permit.RoleOwner {
		return fmt.Errorf("%w: cannot edit owner grants", permit.ErrForbidden)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := `DELETE FROM permission_grants WHERE user_id = :user_id AND tenant_id = :tenant_id`
	if _, err := tx.NamedExecContext(ctx, del, map[string]any{"user_id": userID, "tenant_id": tenantID}); err != nil {
		return err
	}
	ins := `INSERT INTO permission_grants(user_id, tenant_id, permission, created_at)
	        VALUES(:user_id, :tenant_id, :permission, :created_at)`
	now := time.Now()
	for _, p := range perms {
		if _, err := tx.NamedExecContext(ctx, ins, map[string]any{
			"user_id":    userID,
			"tenant_id":  tenantID,
			"permission": string(p),
			"created_at": now,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLDirectory) ListTenantsForSuperAdmin(ctx context.Context) ([]permit.Tenant, error) {
	q := `SELECT id, name FROM tenants ORDER BY id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]permit.Tenant, 0)
	for r.Next() {
		var t permit.Tenant
		if err := r.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLDirectory) membershipRole(ctx context.Context, userID, tenantID string) (permit.Role, error) {
	q := `SELECT role FROM memberships
	      WHERE user_id = :user_id AND tenant_id = :tenant_id AND status = :status`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"user_id":   userID,
		"tenant_id": tenantID,
		"status":    string(permit.StatusActive),
	})
	if err != nil {
		return permit.RoleNone, err
	}
	defer r.Close()
	if !r.Next() {
		return permit.RoleNone, nil
	}
	var role string
	if err := r.Scan(&role); err != nil {
		return permit.RoleNone, err
	}
	return permit.Role(role), nil
}
