// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Attempt types recorded in the audit log.
const (
	AttemptLogin         = "login"
	AttemptRecovery      = "recovery"
	AttemptPasswordReset = "password_reset"
)

// AuditEntry is one append-only record of an authentication or
// recovery attempt. Entries are never updated or deleted.
type AuditEntry struct { //nolint:govet // fieldalignment: readability over optimization
	ID            int64     `db:"id" json:"id"`
	RequestID     string    `db:"request_id" json:"request_id"`
	Username      string    `db:"username" json:"username"`
	AttemptType   string    `db:"attempt_type" json:"attempt_type"`
	Success       bool      `db:"success" json:"success"`
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	Origin        string    `db:"origin" json:"origin,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
