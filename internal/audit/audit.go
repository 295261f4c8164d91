// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package audit provides the append-only attempt log.
package audit

import (
	"context"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
)

// Entry is one attempt to record.
type Entry struct { //nolint:govet // fieldalignment: readability over optimization
	RequestID     string
	Username      string
	AttemptType   string
	Success       bool
	FailureReason string
	Origin        string
	Timestamp     time.Time
}

// Sink records attempts. Emit must not fail the surrounding operation;
// implementations log and swallow their own errors.
type Sink interface {
	Emit(ctx context.Context, entry Entry)
}

// NoOpSink discards every entry. Used in tests.
type NoOpSink struct{}

// Emit implements Sink.
func (NoOpSink) Emit(context.Context, Entry) {}

// StoreSink appends entries to the audit_log table.
type StoreSink struct {
	repo *repository.Repository
}

// NewStoreSink creates a repository-backed sink.
func NewStoreSink(repo *repository.Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Emit implements Sink. Storage failures are logged, never propagated.
func (s *StoreSink) Emit(ctx context.Context, entry Entry) {
	record := &models.AuditEntry{
		RequestID:     entry.RequestID,
		Username:      entry.Username,
		AttemptType:   entry.AttemptType,
		Success:       entry.Success,
		FailureReason: entry.FailureReason,
		Origin:        entry.Origin,
	}
	if err := s.repo.AppendAudit(ctx, record); err != nil {
		slog.Error("audit_append_failed", "error", err, "username", entry.Username)
		return
	}
	slog.Debug("audit_entry",
		"username", entry.Username,
		"attempt_type", entry.AttemptType,
		"success", entry.Success,
		"failure_reason", entry.FailureReason,
	)
}
