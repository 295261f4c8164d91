// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package recovery drives the client side of the account recovery
// protocol: identify the account, verify one of the out-of-band
// proofs, then submit the new password together with the original
// proof material so the server can re-verify it independently.
package recovery

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
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
)

var (
	// ErrVerificationRequired is returned when a password reset is
	// attempted without a valid pending verification.
	ErrVerificationRequired = errors.New("recovery verification required")
	// ErrVerificationExpired is returned when the verification window
	// has passed. The attempt must restart from identify.
	ErrVerificationExpired = errors.New("recovery verification expired")
	// ErrQuestionsNotDistinct is returned by setup when both question
	// references are the same.
	ErrQuestionsNotDistinct = errors.New("security questions must be distinct")
)

// Completer is the trusted completion handshake as seen from the
// untrusted client.
type Completer interface {
	Complete(ctx context.Context, req reset.CompleteRequest) error
}

// Coordinator runs recovery sessions against the record store and the
// completion handshake.
type Coordinator struct {
	repo      *repository.Repository
	completer Completer
	sink      audit.Sink
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source. Used in tests to age the
// verification window.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a new recovery coordinator.
func NewCoordinator(repo *repository.Repository, completer Completer, sink audit.Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:      repo,
		completer: completer,
		sink:      sink,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identify looks up the account and its recovery setup. On success the
// session caches the two question references and moves to the
// choose-method step.
func (c *Coordinator) Identify(ctx context.Context, sess *Session, username string) error {
	sess.Reset()
	username = secrets.NormalizeUsername(username)

	user, err := c.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.emit(ctx, username, false, reset.ReasonUsernameNotFound)
			return reset.ErrUsernameNotFound
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	cred, err := c.repo.GetRecoveryCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.emit(ctx, username, false, reset.ReasonRecoveryNotSetup)
			return reset.ErrRecoveryNotSetup
		}
		return fmt.Errorf("failed to look up recovery credential: %w", err)
	}
	if !cred.HasQuestions() {
		c.emit(ctx, username, false, reset.ReasonRecoveryNotSetup)
		return reset.ErrRecoveryNotSetup
	}

	sess.username = username
	sess.userID = user.ID
	sess.question1 = cred.Question1
	sess.question2 = cred.Question2
	sess.step = StepChooseMethod
	return nil
}

// VerifyWithQuestions checks both answers against the stored digests.
// On success the normalized answers are held as proof material for the
// completion call and the session moves to the set-password step.
func (c *Coordinator) VerifyWithQuestions(ctx context.Context, sess *Session, answer1, answer2 string) error {
	if sess.username == "" {
		return ErrVerificationRequired
	}

	cred, err := c.repo.GetRecoveryCredential(ctx, sess.userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reset.ErrRecoveryNotSetup
		}
		return fmt.Errorf("failed to look up recovery credential: %w", err)
	}

	if err := reset.VerifyAnswers(cred, answer1, answer2); err != nil {
		c.emit(ctx, sess.username, false, reset.ReasonIncorrectAnswers)
		return err
	}

	sess.pending = &pendingVerification{
		method:     reset.MethodQuestions,
		answer1:    secrets.NormalizeAnswer(answer1),
		answer2:    secrets.NormalizeAnswer(answer2),
		verifiedAt: c.now(),
	}
	sess.step = StepSetPassword
	c.emit(ctx, sess.username, true, "")
	return nil
}

// VerifyWithCode checks a backup code against the stored hashes without
// consuming it. Consumption happens server-side during completion.
func (c *Coordinator) VerifyWithCode(ctx context.Context, sess *Session, code string) error {
	if sess.username == "" {
		return ErrVerificationRequired
	}

	normalized := secrets.NormalizeCode(code)
	codeHash := secrets.Digest(normalized)

	record, err := c.repo.GetBackupCodeByHash(ctx, sess.userID, codeHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.emit(ctx, sess.username, false, reset.ReasonInvalidRecoveryCode)
			return reset.ErrInvalidRecoveryCode
		}
		return fmt.Errorf("failed to look up backup code: %w", err)
	}
	if record.Used {
		c.emit(ctx, sess.username, false, reset.ReasonRecoveryCodeAlreadyUsed)
		return reset.ErrRecoveryCodeAlreadyUsed
	}

	sess.pending = &pendingVerification{
		method:     reset.MethodCode,
		code:       normalized,
		codeHash:   codeHash,
		verifiedAt: c.now(),
	}
	sess.step = StepSetPassword
	c.emit(ctx, sess.username, true, "")
	return nil
}

// CompleteRecovery submits the new password along with the proof
// material captured at verification time. The server re-verifies the
// proof; the client never sends a bare "verified" flag.
func (c *Coordinator) CompleteRecovery(ctx context.Context, sess *Session, newPassword string) error {
	pending := sess.pending
	if pending == nil {
		return ErrVerificationRequired
	}
	if pending.expired(c.now()) {
		sess.Reset()
		return ErrVerificationExpired
	}

	req := reset.CompleteRequest{
		Username:    sess.username,
		Method:      pending.method,
		NewPassword: newPassword,
		Answer1:     pending.answer1,
		Answer2:     pending.answer2,
		Code:        pending.code,
	}

	if err := c.completer.Complete(ctx, req); err != nil {
		if errors.Is(err, reset.ErrRecoveryCodeAlreadyUsed) {
			// The code was consumed elsewhere; restart from identify.
			sess.Reset()
		}
		return err
	}

	sess.pending = nil
	sess.step = StepComplete
	slog.Info("recovery_session_complete", "session_id", sess.ID, "username", sess.username)
	return nil
}

// GenerateBackupCodes produces a fresh set of plaintext backup codes.
// Uniqueness against stored hashes is resolved at persist time.
func (c *Coordinator) GenerateBackupCodes() ([]string, error) {
	return secrets.NewBackupCodes()
}

func (c *Coordinator) emit(ctx context.Context, username string, success bool, reason string) {
	c.sink.Emit(ctx, audit.Entry{
		Username:      username,
		AttemptType:   models.AttemptRecovery,
		Success:       success,
		FailureReason: reason,
		Timestamp:     c.now(),
	})
}
