package permit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// IDENTITY SESSION
// ============================================================================

// Session is the per-identity lifecycle around the pure resolver: it owns the
// published snapshot, the super-admin tenant selector, and the refresh
// pipeline that keeps the three Directory inputs (super-admin flag,
// membership, grants) observable only as one atomic unit.
//
// Consumers call Current() on every render; Refresh/Login/Logout are the only
// mutators. The session starts in the deny posture and returns to it on any
// lookup failure, so a check can never pass on stale or partial data.
type Session struct {
	dir      Directory
	catalog  *Catalog
	logger   logger.Logger
	cache    *SnapshotCache
	selector *TenantSelector
	retry    RetryConfig

	// refreshSeq tags every refresh; publish drops results whose tag is no
	// longer the latest issued, so an out-of-order slow refresh can never
	// overwrite a newer identity.
	refreshSeq atomic.Uint64

	mu      sync.RWMutex
	snap    Snapshot
	lastErr error
}

// SessionOption configures a Session at construction.
type SessionOption func(*Session) error

// WithSnapshotCache installs a ristretto-backed cache in front of refreshes.
func WithSnapshotCache(c *SnapshotCache) SessionOption {
	return func(s *Session) error {
		s.cache = c
		return nil
	}
}

// WithRetry overrides the backoff schedule used by RefreshWithRetry.
func WithRetry(cfg RetryConfig) SessionOption {
	return func(s *Session) error {
		s.retry = cfg.withDefaults()
		return nil
	}
}

// NewSession builds a session over dir and catalog. The session starts with
// no identity and the deny posture.
func NewSession(dir Directory, catalog *Catalog, opts ...SessionOption) (*Session, error) {
	s := &Session{
		dir:      dir,
		catalog:  catalog,
		logger:   logger.NewNullLogger(),
		selector: NewTenantSelector(),
		retry:    RetryConfig{}.withDefaults(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Current returns the resolver over the latest published snapshot and the
// active tenant selection. Synchronous and cheap; call it per render.
func (s *Session) Current() *Resolver {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	return NewResolver(s.catalog, snap, s.selector.Selection())
}

// LastError returns the retryable indicator from the most recent refresh, or
// nil after a successful one. The UI layer uses it to show a "couldn't verify
// permissions, retry" affordance while the deny posture holds.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Refresh fetches a fresh snapshot for userID and publishes it atomically.
// On failure the deny posture is published instead and the wrapped
// ErrLookupFailed is returned for the caller's retry loop. Results of a
// refresh superseded by a newer one are discarded, never applied.
func (s *Session) Refresh(ctx context.Context, userID string) error {
	id := s.refreshSeq.Add(1)

	if s.cache != nil {
		if snap, ok := s.cache.Get(userID); ok {
			s.publish(id, snap, nil)
			return nil
		}
	}

	snap, err := s.fetchSnapshot(ctx, userID)
	if err != nil {
		s.logger.Error("snapshot refresh failed", "user_id", userID, "error", err.Error())
		s.publish(id, DenySnapshot(userID), err)
		return err
	}
	if s.cache != nil {
		s.cache.Set(snap)
	}
	if perr := s.publish(id, snap, nil); errors.Is(perr, errStaleRefresh) {
		s.logger.Debug("snapshot refresh discarded", "user_id", userID)
	}
	return nil
}

// RefreshWithRetry is Refresh behind the configured capped exponential
// backoff. It stops early on context cancellation and on any non-retryable
// error.
func (s *Session) RefreshWithRetry(ctx context.Context, userID string) error {
	backoff := time.Duration(s.retry.BackoffMillis) * time.Millisecond
	maxBackoff := time.Duration(s.retry.MaxBackoffMillis) * time.Millisecond
	var err error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err = s.Refresh(ctx, userID)
		if err == nil || !errors.Is(err, ErrLookupFailed) {
			return err
		}
		if attempt == s.retry.MaxAttempts {
			break
		}
		s.logger.Info("retrying snapshot refresh", "user_id", userID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}

// Login switches the session to a new identity: any impersonation selection
// is dropped, any cached snapshot for the user is discarded, and a fresh
// snapshot is fetched.
func (s *Session) Login(ctx context.Context, userID string) error {
	s.selector.Clear()
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	return s.Refresh(ctx, userID)
}

// Logout clears the selection and returns the session to the deny posture.
// Any in-flight refresh for the previous identity is thereby superseded.
func (s *Session) Logout() {
	id := s.refreshSeq.Add(1)
	s.selector.Clear()
	s.mu.RLock()
	userID := s.snap.UserID
	s.mu.RUnlock()
	if s.cache != nil && userID != "" {
		s.cache.Invalidate(userID)
	}
	s.publish(id, Snapshot{}, nil)
}

// SelectTenant applies a super-admin impersonation target. Silent no-op for
// non-super-admins; their effective tenant is never redirectable.
func (s *Session) SelectTenant(id, name string) bool {
	s.mu.RLock()
	superAdmin := s.snap.SuperAdmin
	s.mu.RUnlock()
	applied := s.selector.Select(superAdmin, id, name)
	if applied {
		s.logger.Info("tenant selection applied", "tenant_id", id, "tenant_name", name)
	}
	return applied
}

// ClearSelection returns to the Own tenant context. Idempotent.
func (s *Session) ClearSelection() {
	s.selector.Clear()
}

// EffectiveTenantID is the tenant every tenant-scoped read must use.
func (s *Session) EffectiveTenantID() (string, bool) {
	return s.Current().EffectiveTenantID()
}

// ListTenants powers the tenant-selector UI. ErrForbidden unless the current
// snapshot carries the super-admin flag.
func (s *Session) ListTenants(ctx context.Context) ([]Tenant, error) {
	if !s.Current().IsSuperAdmin() {
		return nil, ErrForbidden
	}
	tenants, err := s.dir.ListTenantsForSuperAdmin(ctx)
	if err != nil {
		return nil, lookupFailed("list tenants", err)
	}
	return tenants, nil
}

// InvalidateSnapshot drops the cached snapshot for userID so the next refresh
// hits the Directory. The grant editor calls this after a ReplaceGrants.
func (s *Session) InvalidateSnapshot(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}

// publish installs snap as the session's current state unless a newer refresh
// has been issued since id was taken.
func (s *Session) publish(id uint64, snap Snapshot, refreshErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.refreshSeq.Load() {
		return errStaleRefresh
	}
	s.snap = snap
	s.lastErr = refreshErr
	return nil
}

// fetchSnapshot performs the three Directory reads for one refresh: the
// super-admin flag and the active membership concurrently, then the grant set
// for the resolved tenant. The results are joined here and only ever
// published together.
func (s *Session) fetchSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	var (
		superAdmin bool
		membership *Membership
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		flag, err := s.dir.GetSuperAdminStatus(gctx, userID)
		if err != nil {
			return lookupFailed("super-admin status", err)
		}
		superAdmin = flag
		return nil
	})
	g.Go(func() error {
		m, err := s.dir.GetActiveMembership(gctx, userID)
		if err != nil {
			return lookupFailed("active membership", err)
		}
		membership = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{UserID: userID, SuperAdmin: superAdmin}
	if membership != nil && membership.Status == StatusActive {
		snap.HasMembership = true
		snap.Role = membership.Role
		snap.TenantID = membership.TenantID
		grants, err := s.dir.ListGrants(ctx, userID, membership.TenantID)
		if err != nil {
			return Snapshot{}, lookupFailed("list grants", err)
		}
		snap.Grants = GrantSet(grants...)
	}
	return snap, nil
}

// RetryConfig shapes RefreshWithRetry's backoff schedule.
type RetryConfig struct {
	MaxAttempts      int   `json:"max_attempts" yaml:"max_attempts"`
	BackoffMillis    int64 `json:"backoff_ms" yaml:"backoff_ms"`
	MaxBackoffMillis int64 `json:"max_backoff_ms" yaml:"max_backoff_ms"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffMillis <= 0 {
		c.BackoffMillis = 100
	}
	if c.MaxBackoffMillis <= 0 {
		c.MaxBackoffMillis = 2_000
	}
	return c
}
