// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

const tokenColumns = `id, token, user_id, token_type, expired, revoked, expires_at, user_agent,
	device_type, device_name, ip_address, last_used_at, created_at`

// CreateToken inserts a ledger row and sets its ID.
func (r *Repository) CreateToken(ctx context.Context, t *models.Token) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = models.Millis(time.Now())
	}
	if t.TokenType == "" {
		t.TokenType = models.TokenTypeBearer
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (token, user_id, token_type, expired, revoked, expires_at, user_agent,
			device_type, device_name, ip_address, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Token, t.UserID, t.TokenType, t.Expired, t.Revoked, t.ExpiresAt, t.UserAgent,
		t.DeviceType, t.DeviceName, t.IPAddress, t.LastUsedAt, t.CreatedAt)
	if err != nil {
		return wrapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// GetToken retrieves a ledger row by its exact token string.
func (r *Repository) GetToken(ctx context.Context, token string) (*models.Token, error) {
	var t models.Token
	if err := r.db.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM tokens WHERE token = ?`, token); err != nil {
		return nil, wrapError(err)
	}
	return &t, nil
}

// ListValidTokens returns the user's rows that are valid at now, newest first.
func (r *Repository) ListValidTokens(ctx context.Context, userID int64, now time.Time) ([]models.Token, error) {
	var tokens []models.Token
	err := r.db.SelectContext(ctx, &tokens,
		`SELECT `+tokenColumns+` FROM tokens
		WHERE user_id = ? AND expired = 0 AND revoked = 0 AND expires_at > ?
		ORDER BY created_at DESC, id DESC`, userID, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// DeleteToken deletes the row holding token and reports how many rows were removed.
func (r *Repository) DeleteToken(ctx context.Context, token string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, token))
}

// DeleteUserToken deletes one of the user's rows by ID.
func (r *Repository) DeleteUserToken(ctx context.Context, userID, id int64) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ? AND user_id = ?`, id, userID))
}

// DeleteValidTokens deletes every row of the user that is valid at now.
func (r *Repository) DeleteValidTokens(ctx context.Context, userID int64, now time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = ? AND expired = 0 AND revoked = 0 AND expires_at > ?`,
		userID, now.UnixMilli()))
}

// TouchToken sets last_used_at on the row holding token.
func (r *Repository) TouchToken(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tokens SET last_used_at = ? WHERE token = ?`, models.Millis(at), token)
	return err
}

// DeleteStaleTokens removes rows that can never validate again.
func (r *Repository) DeleteStaleTokens(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expired = 1 OR revoked = 1 OR expires_at <= ?`, now.UnixMilli()))
}
