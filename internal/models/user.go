// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// User is an account that can be recovered.
type User struct { //nolint:govet // fieldalignment: readability over optimization
	ID                int64      `db:"id" json:"id"`
	Username          string     `db:"username" json:"username"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	FailedAttempts    int64      `db:"failed_attempts" json:"-"`
	PasswordChangedAt *time.Time `db:"password_changed_at" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
