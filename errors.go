package permit

import (
	"errors"
	"fmt"
)

// Error taxonomy. UnknownPermission and Forbidden propagate to callers as hard
// failures; LookupFailed is absorbed at the session boundary into a deny
// posture plus a retryable indicator for the UI layer.
var (
	// ErrForbidden is returned for rejected privileged mutations, e.g. editing
	// an owner's grants or listing tenants without super-admin status.
	ErrForbidden = errors.New("forbidden")

	// ErrLookupFailed wraps transient infrastructure errors from membership or
	// grant reads. Callers retry with backoff; the session stays in the deny
	// posture until a refresh succeeds.
	ErrLookupFailed = errors.New("lookup failed")

	// errStaleRefresh marks a refresh whose results arrived after a newer one
	// was issued. Internal signal only, never surfaced to users.
	errStaleRefresh = errors.New("stale refresh discarded")
)

// UnknownPermissionError reports a permission identifier outside the catalog.
// This is a programmer error: the catalog is closed, so an unknown key is a
// typo at the call site, not a deniable request.
type UnknownPermissionError struct {
	Permission Permission
}

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("unknown permission: %s", e.Permission)
}

// IsUnknownPermission reports whether err is an UnknownPermissionError.
func IsUnknownPermission(err error) bool {
	var upe *UnknownPermissionError
	return errors.As(err, &upe)
}

func lookupFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrLookupFailed, op, err)
}
