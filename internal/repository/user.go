// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone, roles, enabled,
	email_verified, provider, provider_id, created_at, last_login_at`

// CreateUser inserts a new user and sets its ID.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = models.Millis(time.Now())
	}
	if len(user.Roles) == 0 {
		user.Roles = models.RoleSet{models.RoleUser}
	}
	if user.Provider == "" {
		user.Provider = models.ProviderLocal
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, phone, roles, enabled,
			email_verified, provider, provider_id, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Phone, user.Roles,
		user.Enabled, user.EmailVerified, user.Provider, user.ProviderID, user.CreatedAt, user.LastLoginAt)
	if err != nil {
		return wrapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = id
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByProvider retrieves a user by its external provider identity.
func (r *Repository) GetUserByProvider(ctx context.Context, provider models.AuthProvider, providerID string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`, provider, providerID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// UserExists checks if a user with the given email exists.
func (r *Repository) UserExists(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM users WHERE email = ?`, email); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUser persists all mutable fields of user.
func (r *Repository) UpdateUser(ctx context.Context, user *models.User) error {
	n, err := affected(r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, first_name = ?, last_name = ?, phone = ?, roles = ?,
			enabled = ?, email_verified = ?, provider = ?, provider_id = ?, last_login_at = ?
		WHERE id = ?`,
		user.PasswordHash, user.FirstName, user.LastName, user.Phone, user.Roles,
		user.Enabled, user.EmailVerified, user.Provider, user.ProviderID, user.LastLoginAt, user.ID))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	n, err := affected(r.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnableUser marks the account for email as enabled and verified.
func (r *Repository) EnableUser(ctx context.Context, email string) error {
	n, err := affected(r.db.ExecContext(ctx,
		`UPDATE users SET enabled = 1, email_verified = 1 WHERE email = ?`, email))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, models.Millis(at), id)
	return err
}

// CountUsersWithRole counts users holding role.
func (r *Repository) CountUsersWithRole(ctx context.Context, role models.Role) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM users WHERE ',' || roles || ',' LIKE ?`, "%,"+string(role)+",%")
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SetUserRoles replaces a user's role set.
func (r *Repository) SetUserRoles(ctx context.Context, id int64, roles models.RoleSet) error {
	n, err := affected(r.db.ExecContext(ctx, `UPDATE users SET roles = ? WHERE id = ?`, roles, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
