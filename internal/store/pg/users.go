package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"scolara.org/internal/auth"
)

const userColumns = `
	id, coalesce(ecole_id,''), role, permissions, email, password_hash, status,
	created_at, updated_at`

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, `where id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, `where lower(email) = lower($1)`, email)
}

func (s *Store) IsSuperAdmin(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from super_admins where user_id = $1)
	`, id).Scan(&exists)
	return exists, err
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*auth.User, error) {
	var (
		u        auth.User
		rawPerms []byte
	)
	err := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users `+where, arg,
	).Scan(
		&u.ID, &u.EcoleID, &u.Role, &rawPerms, &u.Email, &u.PasswordHash, &u.Status,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// A null column means "use the role defaults". An explicit list, even
	// an empty one, replaces them entirely.
	if rawPerms != nil {
		u.Permissions = []auth.Permission{}
		if err := json.Unmarshal(rawPerms, &u.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &u, nil
}
