package auth

import "time"

// Role is the coarse caller category assigned to every profile.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleGestionnaire Role = "gestionnaire"
	RoleProf         Role = "prof"
	RoleEleve        Role = "eleve"
	RoleParent       Role = "parent"
)

// Permission is a fine-grained capability name, explicitly granted or
// inherited from the role's default set.
type Permission string

const (
	userStatusActive   = "active"
	userStatusDisabled = "disabled"
)

const (
	UserStatusActive   = userStatusActive
	UserStatusDisabled = userStatusDisabled
)

// User represents an identity profile. EcoleID is empty only for platform
// super-admins, which are tracked in a separate registry.
type User struct {
	ID      string `json:"id"`
	EcoleID string `json:"ecole_id,omitempty"`
	Role    Role   `json:"role"`

	// Permissions overrides the role defaults entirely when non-nil.
	// A nil slice means "use the role defaults"; an empty non-nil slice
	// means "no permissions at all".
	Permissions []Permission `json:"permissions,omitempty"`

	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
