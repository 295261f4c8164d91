// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// RecoveryCredential stores the per-user recovery setup: two security
// question references with hashed answers, plus the optional email
// recovery channel. Backup codes live in their own table.
type RecoveryCredential struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64 `db:"id" json:"id"`
	UserID    int64 `db:"user_id" json:"user_id"`
	Question1 string `db:"question1" json:"question1"`
	Question2 string `db:"question2" json:"question2"`
	// AnswerHash1/2 are SHA256 hex digests of the normalized answers.
	AnswerHash1 string `db:"answer_hash1" json:"-"`
	AnswerHash2 string `db:"answer_hash2" json:"-"`

	RecoveryEmail         string     `db:"recovery_email" json:"recovery_email,omitempty"`
	RecoveryEmailVerified bool       `db:"recovery_email_verified" json:"recovery_email_verified"`
	EmailTokenHash        string     `db:"email_token_hash" json:"-"`
	EmailTokenExpiresAt   *time.Time `db:"email_token_expires_at" json:"-"`
	EmailTokenSentAt      *time.Time `db:"email_token_sent_at" json:"-"`
	EmailAttemptCount     int64      `db:"email_attempt_count" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasQuestions reports whether a complete question pair is on file.
func (c *RecoveryCredential) HasQuestions() bool {
	return c.Question1 != "" && c.Question2 != "" &&
		c.AnswerHash1 != "" && c.AnswerHash2 != ""
}
