// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package reset implements the privileged completion handshake for
// account recovery. It is the only caller of the password operator and
// re-verifies every proof independently of the untrusted client.
package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/audit"
	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/secrets"
)

// Recovery methods accepted by the handshake.
const (
	MethodQuestions = "questions"
	MethodCode      = "code"
)

// MinPasswordLength is the minimum accepted length for a new password.
const MinPasswordLength = 8

// PasswordSetter is the privileged operator. Only this package may
// invoke it on behalf of an unauthenticated caller.
type PasswordSetter interface {
	SetPassword(ctx context.Context, userID int64, newPassword string) error
}

// CompleteRequest carries the proof material the client captured at
// verification time, never a bare "verified" flag.
type CompleteRequest struct { //nolint:govet // fieldalignment: readability over optimization
	Username    string
	Method      string
	NewPassword string
	Answer1     string
	Answer2     string
	Code        string

	// RequestID and Origin are audit metadata supplied by the caller.
	RequestID string
	Origin    string
}

// Service re-validates submitted proofs and performs the password reset.
type Service struct {
	repo     *repository.Repository
	operator PasswordSetter
	sink     audit.Sink
}

// NewService creates a new completion service.
func NewService(repo *repository.Repository, operator PasswordSetter, sink audit.Sink) *Service {
	return &Service{repo: repo, operator: operator, sink: sink}
}

// VerifyAnswers checks both answers against the stored digests. Both
// comparisons are always evaluated before deciding, and each uses a
// constant-time equality.
func VerifyAnswers(cred *models.RecoveryCredential, answer1, answer2 string) error {
	hash1 := secrets.Digest(secrets.NormalizeAnswer(answer1))
	hash2 := secrets.Digest(secrets.NormalizeAnswer(answer2))

	// Evaluate both comparisons, no short-circuit skip.
	match1 := secrets.Equal(hash1, cred.AnswerHash1)
	match2 := secrets.Equal(hash2, cred.AnswerHash2)
	if !match1 || !match2 {
		return ErrIncorrectAnswers
	}
	return nil
}

// Complete performs the full handshake. Order matters: the proof is
// re-verified against stored state, a backup code is consumed before
// the password changes hands, and the consumption is never rolled back.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) error {
	err := s.complete(ctx, req)

	entry := audit.Entry{
		RequestID:   req.RequestID,
		Username:    secrets.NormalizeUsername(req.Username),
		AttemptType: models.AttemptPasswordReset,
		Success:     err == nil,
		Origin:      req.Origin,
		Timestamp:   time.Now(),
	}
	if err != nil {
		entry.FailureReason = ReasonCode(err)
	}
	s.sink.Emit(ctx, entry)

	return err
}

func (s *Service) complete(ctx context.Context, req CompleteRequest) error {
	if len(req.NewPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	username := secrets.NormalizeUsername(req.Username)
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUsernameNotFound
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	cred, err := s.repo.GetRecoveryCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecoveryNotSetup
		}
		return fmt.Errorf("failed to look up recovery credential: %w", err)
	}

	switch req.Method {
	case MethodQuestions:
		if !cred.HasQuestions() {
			return ErrRecoveryNotSetup
		}
		if err := VerifyAnswers(cred, req.Answer1, req.Answer2); err != nil {
			return err
		}
	case MethodCode:
		if err := s.redeemCode(ctx, user.ID, req.Code); err != nil {
			return err
		}
	default:
		return ErrInvalidMethod
	}

	// The code is already consumed at this point. A failure below
	// leaves it consumed: replay safety wins over retryability.
	if err := s.operator.SetPassword(ctx, user.ID, req.NewPassword); err != nil {
		slog.Error("password_update_failed", "user_id", user.ID, "error", err)
		return ErrPasswordUpdateFailed
	}

	// Best effort profile metadata.
	if err := s.repo.TouchPasswordChanged(ctx, user.ID, time.Now()); err != nil {
		slog.Warn("password_metadata_update_failed", "user_id", user.ID, "error", err)
	}

	slog.Info("recovery_completed", "user_id", user.ID, "method", req.Method)
	return nil
}

// redeemCode verifies and consumes a backup code. Consumption is a
// single conditional update, so two racing redemptions of the same
// code cannot both succeed.
func (s *Service) redeemCode(ctx context.Context, userID int64, code string) error {
	codeHash := secrets.Digest(secrets.NormalizeCode(code))

	record, err := s.repo.GetBackupCodeByHash(ctx, userID, codeHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRecoveryCode
		}
		return fmt.Errorf("failed to look up backup code: %w", err)
	}
	if record.Used {
		return ErrRecoveryCodeAlreadyUsed
	}

	consumed, err := s.repo.ConsumeBackupCode(ctx, userID, codeHash)
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	if !consumed {
		// Lost the race against a concurrent redemption.
		return ErrRecoveryCodeAlreadyUsed
	}
	return nil
}
