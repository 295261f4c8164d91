// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// BackupCode stores a hashed single-use backup code. The used flag is
// set exactly once; a used code is never reset except by regenerating
// the whole set.
type BackupCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	CodeHash  string     `db:"code_hash" json:"-"`
	Used      bool       `db:"used" json:"used"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}
