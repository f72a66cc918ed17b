// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/socialnet-auth/internal/models"
)

const otpColumns = `id, email, code_hash, type, status, attempts, expires_at, created_at`

// ReplaceOtp deletes any row for (email, type) and inserts o in its place.
func (r *Repository) ReplaceOtp(ctx context.Context, o *models.Otp) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = models.Millis(time.Now())
	}
	if o.Status == "" {
		o.Status = models.OtpPending
	}

	if _, err := r.DeleteOtps(ctx, o.Email, o.Type); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO otps (email, code_hash, type, status, attempts, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Email, o.CodeHash, o.Type, o.Status, o.Attempts, o.ExpiresAt, o.CreatedAt)
	if err != nil {
		return wrapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = id
	return nil
}

// GetPendingOtp retrieves the PENDING row for (email, type).
func (r *Repository) GetPendingOtp(ctx context.Context, email string, typ models.OtpType) (*models.Otp, error) {
	var o models.Otp
	err := r.db.GetContext(ctx, &o,
		`SELECT `+otpColumns+` FROM otps WHERE email = ? AND type = ? AND status = ?`,
		email, typ, models.OtpPending)
	if err != nil {
		return nil, wrapError(err)
	}
	return &o, nil
}

// SetOtpStatus moves a row to status. Only PENDING rows transition, so a
// concurrent verifier cannot consume the same code twice; the returned count
// is zero when the row had already left PENDING.
func (r *Repository) SetOtpStatus(ctx context.Context, id int64, status models.OtpStatus) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE otps SET status = ? WHERE id = ? AND status = ?`, status, id, models.OtpPending))
}

// IncrementOtpAttempts bumps the failed-attempt counter and returns its new value.
func (r *Repository) IncrementOtpAttempts(ctx context.Context, id int64) (int, error) {
	if _, err := r.db.ExecContext(ctx, `UPDATE otps SET attempts = attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, `SELECT attempts FROM otps WHERE id = ?`, id); err != nil {
		return 0, wrapError(err)
	}
	return attempts, nil
}

// DeleteOtps removes every row for (email, type).
func (r *Repository) DeleteOtps(ctx context.Context, email string, typ models.OtpType) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM otps WHERE email = ? AND type = ?`, email, typ))
}

// DeleteStaleOtps removes rows that are terminal or past their expiry.
func (r *Repository) DeleteStaleOtps(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx,
		`DELETE FROM otps WHERE status != ? OR expires_at < ?`, models.OtpPending, now.UnixMilli()))
}
