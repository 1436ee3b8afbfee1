package auth

import "context"

// Resolver answers role/permission questions about identities. Every predicate
// is fail-closed: a missing profile or a storage failure yields false, never
// an error. Tenant resolution (which must abort a request outright) lives in
// the tenant package; the asymmetry is deliberate.
type Resolver struct {
	store UserStore
}

// NewResolver constructs a Resolver over the given identity store.
func NewResolver(store UserStore) *Resolver {
	return &Resolver{store: store}
}

// ResolveRole reads the identity's profile and returns its role. The second
// return value is false when the profile does not exist or cannot be read.
func (r *Resolver) ResolveRole(ctx context.Context, uid string) (Role, bool) {
	if uid == "" {
		return "", false
	}
	u, err := r.store.Find(ctx, uid)
	if err != nil {
		return "", false
	}
	return u.Role, true
}

// EffectivePermissions returns the identity's permission set: the explicit
// permissions array when present (it overrides the defaults entirely, even
// when empty), else the role defaults. Missing profiles and unknown roles
// yield the empty set.
func (r *Resolver) EffectivePermissions(ctx context.Context, uid string) map[Permission]struct{} {
	set := make(map[Permission]struct{})
	if uid == "" {
		return set
	}
	u, err := r.store.Find(ctx, uid)
	if err != nil {
		return set
	}
	perms := u.Permissions
	if perms == nil {
		perms = DefaultPermissions(u.Role)
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission reports whether the identity may execute the action. The
// admin role short-circuits to true unconditionally, including for names
// outside the enumerated universe: admin is omnipotent by role, not by an
// enumerated grant.
func (r *Resolver) HasPermission(ctx context.Context, uid string, perm Permission) bool {
	role, ok := r.ResolveRole(ctx, uid)
	if !ok {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	_, granted := r.EffectivePermissions(ctx, uid)[perm]
	return granted
}

// IsAdmin reports whether the identity carries the admin role.
func (r *Resolver) IsAdmin(ctx context.Context, uid string) bool {
	role, ok := r.ResolveRole(ctx, uid)
	return ok && role == RoleAdmin
}

// IsAdminOrManager reports admin or gestionnaire. This gates every ledger
// mutation.
func (r *Resolver) IsAdminOrManager(ctx context.Context, uid string) bool {
	role, ok := r.ResolveRole(ctx, uid)
	return ok && (role == RoleAdmin || role == RoleGestionnaire)
}

// IsStaff reports admin, gestionnaire or prof.
func (r *Resolver) IsStaff(ctx context.Context, uid string) bool {
	role, ok := r.ResolveRole(ctx, uid)
	return ok && (role == RoleAdmin || role == RoleGestionnaire || role == RoleProf)
}

// IsTeacherOrAdmin reports prof or admin.
func (r *Resolver) IsTeacherOrAdmin(ctx context.Context, uid string) bool {
	role, ok := r.ResolveRole(ctx, uid)
	return ok && (role == RoleAdmin || role == RoleProf)
}
