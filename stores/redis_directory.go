package stores

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// RedisDirectory implements the Directory and Seeder contracts on Redis.
// Key layout:
//
//	permit:tenants                     hash  tenantID -> name
//	permit:member:{userID}:{tenantID}  hash  role, status, updated_at
//	permit:members:{userID}            set   tenant ids with a membership record
//	permit:grants:{tenantID}:{userID}  set   granted permissions
//	permit:superadmins                 set   user ids
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: "permit"}
}

func (d *RedisDirectory) tenantsKey() string {
	return d.prefix + ":tenants"
}

func (d *RedisDirectory) memberKey(userID, tenantID string) string {
	return fmt.Sprintf("%s:member:%s:%s", d.prefix, userID, tenantID)
}

func (d *RedisDirectory) membersKey(userID string) string {
	return fmt.Sprintf("%s:members:%s", d.prefix, userID)
}

func (d *RedisDirectory) grantsKey(tenantID, userID string) string {
	return fmt.Sprintf("%s:grants:%s:%s", d.prefix, tenantID, userID)
}

func (d *RedisDirectory) superAdminsKey() string {
	return d.prefix + ":superadmins"
}

func (d *RedisDirectory) SaveTenant(ctx context.Context, t permit.Tenant) error {
	return d.client.HSet(ctx, d.tenantsKey(), t.ID, t.Name).Err()
}

func (d *RedisDirectory) SaveMembership(ctx context.Context, m permit.Membership) error {
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, d.memberKey(m.UserID, m.TenantID), map[string]interface{}{
		"role":       string(m.Role),
		"status":     string(m.Status),
		"updated_at": time.Now().Format(time.RFC3339),
	})
	pipe.SAdd(ctx, d.membersKey(m.UserID), m.TenantID)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) SetSuperAdmin(ctx context.Context, userID string, enabled bool) error {
	if enabled {
		return d.client.SAdd(ctx, d.superAdminsKey(), userID).Err()
	}
	return d.client.SRem(ctx, d.superAdminsKey(), userID).Err()
}

func (d *RedisDirectory) GetSuperAdminStatus(ctx context.Context, userID string) (bool, error) {
	return d.client.SIsMember(ctx, d.superAdminsKey(), userID).Result()
}

func (d *RedisDirectory) GetActiveMembership(ctx context.Context, userID string) (*permit.Membership, error) {
	tenantIDs, err := d.client.SMembers(ctx, d.membersKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(tenantIDs)
	for _, tenantID := range tenantIDs {
		fields, err := d.client.HGetAll(ctx, d.memberKey(userID, tenantID)).Result()
		if err != nil {
			return nil, err
		}
		if permit.MembershipStatus(fields["status"]) != permit.StatusActive {
			continue
		}
		m := &permit.Membership{
			UserID:   userID,
			TenantID: tenantID,
			Role:     permit.Role(fields["role"]),
			Status:   permit.StatusActive,
		}
		if raw := fields["updated_at"]; raw != "" {
			if t, err := parseFlexibleTime(raw); err == nil {
				m.UpdatedAt = t
			}
		}
		return m, nil
	}
	return nil, nil
}

func (d *RedisDirectory) ListGrants(ctx context.Context, userID, tenantID string) ([]permit.Permission, error) {
	members, err := d.client.SMembers(ctx, d.grantsKey(tenantID, userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	out := make([]permit.Permission, 0, len(members))
	for _, m := range members {
		out = append(out, permit.Permission(m))
	}
	return out, nil
}

func (d *RedisDirectory) ListGrantsAdmin(ctx context.Context, tenantID string) (map[string][]permit.Permission, error) {
	pattern := d.grantsKey(tenantID, "*")
	keyPrefix := d.grantsKey(tenantID, "")
	out := make(map[string][]permit.Permission)
	var cursor uint64
	for {
		keys, next, err := d.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			userID := strings.TrimPrefix(key, keyPrefix)
			perms, err := d.ListGrants(ctx, userID, tenantID)
			if err != nil {
				return nil, err
			}
			out[userID] = perms
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

// ReplaceGrants rewrites the grant set in one MULTI/EXEC pipeline, so
// readers observe either the old or the new set, never a partial one.
func (d *RedisDirectory) ReplaceGrants(ctx context.Context, userID, tenantID string, perms []permit.Permission) error {
	fields, err := d.client.HGetAll(ctx, d.memberKey(userID, tenantID)).Result()
	if err != nil {
		return err
	}
	if permit.MembershipStatus(fields["status"]) == permit.StatusActive && permit.Role(fields["role"]) == permit.RoleOwner {
		return fmt.Errorf("%w: cannot edit owner grants", permit.ErrForbidden)
	}

	key := d.grantsKey(tenantID, userID)
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(perms) > 0 {
		members := make([]interface{}, 0, len(perms))
		for _, p := range perms {
			members = append(members, string(p))
		}
		pipe.SAdd(ctx, key, members...)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) ListTenantsForSuperAdmin(ctx context.Context) ([]permit.Tenant, error) {
	fields, err := d.client.HGetAll(ctx, d.tenantsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]permit.Tenant, 0, len(fields))
	for id, name := range fields {
		out = append(out, permit.Tenant{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
