package auth

import "context"

// UserStore describes the identity persistence operations required by the
// resolvers. Implementations return ErrNotFound for missing profiles.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// IsSuperAdmin checks the platform super-admin registry. Membership is
	// tracked separately from profiles: a super-admin has no tenant.
	IsSuperAdmin(ctx context.Context, id string) (bool, error)
}
