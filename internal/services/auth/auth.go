// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth holds password authentication and the privileged
// password operator. SetPassword is only handed to the recovery
// completion service; HTTP clients never reach it directly.
package auth

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
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// dummyHash is used for constant-time login to prevent timing attacks.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

type Service struct {
	repo *repository.Repository
	sink audit.Sink
}

func NewService(repo *repository.Repository, sink audit.Sink) *Service {
	return &Service{repo: repo, sink: sink}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = secrets.NormalizeUsername(username)

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("register_success", "user_id", user.ID, "username", username)
	return user, nil
}

// Login authenticates a user and returns the user if successful.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = secrets.NormalizeUsername(username)

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Constant-time: always perform a bcrypt comparison.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.emitLogin(ctx, username, false, "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		_ = s.repo.IncrementFailedAttempts(ctx, user.ID)
		s.emitLogin(ctx, username, false, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.emitLogin(ctx, username, true, "")
	return user, nil
}

// SetPassword rewrites a user's password hash. This is the privileged
// operator capability; it performs no proof verification of its own.
func (s *Service) SetPassword(ctx context.Context, userID int64, newPassword string) error {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, string(passwordHash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (s *Service) emitLogin(ctx context.Context, username string, success bool, reason string) {
	s.sink.Emit(ctx, audit.Entry{
		Username:      username,
		AttemptType:   models.AttemptLogin,
		Success:       success,
		FailureReason: reason,
		Timestamp:     time.Now(),
	})
	if !success {
		slog.Warn("login_failed", "username", username, "reason", reason)
	} else {
		slog.Info("login_success", "username", username)
	}
}
