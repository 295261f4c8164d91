// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
)

// CreateRecoveryCredential inserts a recovery credential for a user.
func (r *Repository) CreateRecoveryCredential(ctx context.Context, cred *models.RecoveryCredential) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_credentials
		 (user_id, question1, question2, answer_hash1, answer_hash2, recovery_email, recovery_email_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cred.UserID, cred.Question1, cred.Question2,
		cred.AnswerHash1, cred.AnswerHash2,
		cred.RecoveryEmail, cred.RecoveryEmailVerified)
	if err != nil {
		return wrapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	cred.ID = id
	return nil
}

// UpdateRecoveryCredential replaces the question/answer payload of an
// existing credential.
func (r *Repository) UpdateRecoveryCredential(ctx context.Context, cred *models.RecoveryCredential) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recovery_credentials
		 SET question1 = ?, question2 = ?, answer_hash1 = ?, answer_hash2 = ?,
		     recovery_email = ?, recovery_email_verified = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		cred.Question1, cred.Question2, cred.AnswerHash1, cred.AnswerHash2,
		cred.RecoveryEmail, cred.RecoveryEmailVerified, cred.UserID)
	return err
}

// GetRecoveryCredential retrieves the recovery credential for a user.
func (r *Repository) GetRecoveryCredential(ctx context.Context, userID int64) (*models.RecoveryCredential, error) {
	var cred models.RecoveryCredential
	if err := r.db.GetContext(ctx, &cred,
		`SELECT * FROM recovery_credentials WHERE user_id = ?`, userID); err != nil {
		return nil, wrapError(err)
	}
	return &cred, nil
}

// ===== Backup codes =====

// ReplaceBackupCodes replaces all backup codes for a user with a fresh
// set. Replacing also clears any used flags, because used rows are
// deleted with the rest.
func (r *Repository) ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash) VALUES (?, ?)`,
			userID, hash); err != nil {
			return wrapError(err)
		}
	}
	return tx.Commit()
}

// GetBackupCodes retrieves all backup codes for a user, used or not.
func (r *Repository) GetBackupCodes(ctx context.Context, userID int64) ([]models.BackupCode, error) {
	var codes []models.BackupCode
	err := r.db.SelectContext(ctx, &codes,
		`SELECT * FROM backup_codes WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// GetBackupCodeByHash retrieves a single backup code by its hash.
func (r *Repository) GetBackupCodeByHash(ctx context.Context, userID int64, codeHash string) (*models.BackupCode, error) {
	var code models.BackupCode
	err := r.db.GetContext(ctx, &code,
		`SELECT * FROM backup_codes WHERE user_id = ? AND code_hash = ?`, userID, codeHash)
	if err != nil {
		return nil, wrapError(err)
	}
	return &code, nil
}

// ConsumeBackupCode marks a backup code as used in one conditional
// update. Exactly one concurrent caller observes true; every other
// caller observes false because the row no longer matches used = 0.
func (r *Repository) ConsumeBackupCode(ctx context.Context, userID int64, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE backup_codes SET used = 1, used_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND code_hash = ? AND used = 0`,
		userID, codeHash)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ===== Email recovery tokens =====

// SetEmailToken stores the hashed recovery token with its expiry and
// issue timestamp, and increments the attempt counter.
func (r *Repository) SetEmailToken(ctx context.Context, userID int64, tokenHash string, expiresAt, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recovery_credentials
		 SET email_token_hash = ?, email_token_expires_at = ?, email_token_sent_at = ?,
		     email_attempt_count = email_attempt_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		tokenHash, expiresAt, sentAt, userID)
	return err
}

// ClearEmailToken removes the stored recovery token fields.
func (r *Repository) ClearEmailToken(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recovery_credentials
		 SET email_token_hash = '', email_token_expires_at = NULL, email_token_sent_at = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		userID)
	return err
}

// DeleteExpiredEmailTokens clears token fields whose expiry has passed.
func (r *Repository) DeleteExpiredEmailTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recovery_credentials
		 SET email_token_hash = '', email_token_expires_at = NULL, email_token_sent_at = NULL
		 WHERE email_token_expires_at IS NOT NULL AND email_token_expires_at < ?`,
		time.Now())
	return err
}
