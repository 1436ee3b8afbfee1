// Package tenant maps authenticated identities to their school. Unlike the
// permission predicates in the auth package, which fail closed with booleans,
// tenant resolution failures are fatal to the request and surface as typed
// errors: a missing tenant must never fail open.
package tenant

import (
	"context"

	"scolara.org/internal/apperr"
	"scolara.org/internal/auth"
)

// Resolver resolves tenant membership for callers.
type Resolver struct {
	store auth.UserStore
}

// NewResolver constructs a Resolver over the identity store.
func NewResolver(store auth.UserStore) *Resolver {
	return &Resolver{store: store}
}

// EcoleID returns the caller's school. It fails with NotFound when the
// profile does not exist and FailedPrecondition when the profile carries no
// school at all.
func (r *Resolver) EcoleID(ctx context.Context, uid string) (string, error) {
	if uid == "" {
		return "", apperr.New(apperr.Unauthenticated, "authentication required")
	}
	u, err := r.store.Find(ctx, uid)
	if err != nil {
		if err == auth.ErrNotFound {
			return "", apperr.New(apperr.NotFound, "profile not found")
		}
		return "", apperr.WrapUnexpected(err, "tenant resolution failed")
	}
	if u.EcoleID == "" {
		return "", apperr.New(apperr.FailedPrecondition, "profile has no school")
	}
	return u.EcoleID, nil
}

// RequireMembership fails with PermissionDenied when the caller's own school
// differs from the target.
func (r *Resolver) RequireMembership(ctx context.Context, uid, targetEcoleID string) error {
	own, err := r.EcoleID(ctx, uid)
	if err != nil {
		return err
	}
	if own != targetEcoleID {
		return apperr.New(apperr.PermissionDenied, "access denied")
	}
	return nil
}

// IsSuperAdmin checks the platform super-admin registry. Read-only and
// fail-closed: lookup failures report false.
func (r *Resolver) IsSuperAdmin(ctx context.Context, uid string) bool {
	if uid == "" {
		return false
	}
	ok, err := r.store.IsSuperAdmin(ctx, uid)
	if err != nil {
		return false
	}
	return ok
}

// EcoleIDOrSuper resolves the school to operate on. When a target is supplied
// and the caller is a super-admin, the target is returned as given. This is
// the only sanctioned cross-tenant path in the system. Everyone else resolves
// to their own school.
func (r *Resolver) EcoleIDOrSuper(ctx context.Context, uid, targetEcoleID string) (string, error) {
	if targetEcoleID != "" && r.IsSuperAdmin(ctx, uid) {
		return targetEcoleID, nil
	}
	return r.EcoleID(ctx, uid)
}
