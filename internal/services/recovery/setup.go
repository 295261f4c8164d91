// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/secrets"
)

const (
	setupMaxAttempts = 8
	setupBackoffUnit = 400 * time.Millisecond
)

// QuestionAnswers is the question/answer pairs chosen at setup.
type QuestionAnswers struct {
	Question1 string
	Answer1   string
	Question2 string
	Answer2   string
}

// SetupRecoveryCredentials hashes the answers and backup codes and
// persists the recovery credential. The insert is retried with backoff
// because the owning user row may not yet be visible to a
// read-after-write; a uniqueness conflict falls back to an update of
// the same payload.
func (c *Coordinator) SetupRecoveryCredentials(ctx context.Context, userID int64, qa QuestionAnswers, backupCodes []string, recoveryEmail string) error {
	if qa.Question1 == qa.Question2 {
		return ErrQuestionsNotDistinct
	}

	cred := &models.RecoveryCredential{
		UserID:        userID,
		Question1:     qa.Question1,
		Question2:     qa.Question2,
		AnswerHash1:   secrets.Digest(secrets.NormalizeAnswer(qa.Answer1)),
		AnswerHash2:   secrets.Digest(secrets.NormalizeAnswer(qa.Answer2)),
		RecoveryEmail: recoveryEmail,
	}

	if err := c.upsertCredential(ctx, cred); err != nil {
		return err
	}

	codeHashes := make([]string, len(backupCodes))
	for i, code := range backupCodes {
		codeHashes[i] = secrets.Digest(secrets.NormalizeCode(code))
	}
	if err := c.repo.ReplaceBackupCodes(ctx, userID, codeHashes); err != nil {
		return fmt.Errorf("failed to store backup codes: %w", err)
	}

	slog.Info("recovery_setup", "user_id", userID, "codes", len(codeHashes))
	return nil
}

// RegenerateBackupCodes issues a fresh code set for an authenticated
// user, replacing every stored hash and clearing the used markers.
func (c *Coordinator) RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	codes, err := secrets.NewBackupCodes()
	if err != nil {
		return nil, err
	}

	codeHashes := make([]string, len(codes))
	for i, code := range codes {
		codeHashes[i] = secrets.Digest(secrets.NormalizeCode(code))
	}
	if err := c.repo.ReplaceBackupCodes(ctx, userID, codeHashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	slog.Info("backup_codes_regenerated", "user_id", userID)
	return codes, nil
}

func (c *Coordinator) upsertCredential(ctx context.Context, cred *models.RecoveryCredential) error {
	var err error
	for attempt := 1; attempt <= setupMaxAttempts; attempt++ {
		err = c.repo.CreateRecoveryCredential(ctx, cred)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) {
			// A credential row already exists; replace its payload.
			return c.repo.UpdateRecoveryCredential(ctx, cred)
		}

		if attempt == setupMaxAttempts {
			break
		}
		slog.Warn("recovery_setup_retry", "user_id", cred.UserID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(setupBackoffUnit * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("failed to store recovery credential: %w", err)
}
