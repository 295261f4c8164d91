// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"

	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
)

// AppendAudit appends one entry to the audit log. Entries are never
// updated or deleted.
func (r *Repository) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (request_id, username, attempt_type, success, failure_reason, origin)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Username, entry.AttemptType,
		entry.Success, entry.FailureReason, entry.Origin)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// ListAuditEntries returns the audit entries for a username, newest first.
func (r *Repository) ListAuditEntries(ctx context.Context, username string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM audit_log WHERE username = ? ORDER BY id DESC`, username)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
