package permit

import "sync"

// ============================================================================
// TENANT CONTEXT SELECTOR
// ============================================================================

// TenantSelection is a super-admin-only, session-local impersonation target.
// It decides which tenant's data is fetched, not whether access is allowed:
// the super-admin bypass is what authorizes impersonated reads.
type TenantSelection struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

// TenantSelector is a two-state machine: Own (no selection, the default) and
// Impersonating (a selection is set). Transitions are gated on the acting
// identity's super-admin flag; for anyone else Select is a silent no-op, so
// a non-super-admin's effective tenant can never be redirected. State is
// never persisted and is cleared on logout.
type TenantSelector struct {
	mu        sync.RWMutex
	selection *TenantSelection
}

// NewTenantSelector starts in the Own state.
func NewTenantSelector() *TenantSelector {
	return &TenantSelector{}
}

// Select moves to Impersonating(id, name), or retargets an existing
// selection. No-op unless superAdmin is true. Returns whether the selection
// was applied.
func (s *TenantSelector) Select(superAdmin bool, id, name string) bool {
	if !superAdmin || id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = &TenantSelection{TenantID: id, TenantName: name}
	return true
}

// Clear returns to the Own state. Idempotent.
func (s *TenantSelector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
}

// Selection returns a copy of the active selection, or nil in the Own state.
func (s *TenantSelector) Selection() *TenantSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selection == nil {
		return nil
	}
	dup := *s.selection
	return &dup
}

// Impersonating reports whether a selection is active.
func (s *TenantSelector) Impersonating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection != nil
}
