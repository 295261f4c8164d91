// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"codeberg.org/oliverandrich/go-account-recovery/internal/database"
	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/secrets"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// NewTestDB creates a throwaway SQLite database for tests. A file in
// t.TempDir is used instead of :memory: so that every pooled
// connection sees the same database.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestUser creates a test user with the given password.
func NewTestUser(t *testing.T, repo *repository.Repository, username, password string) *models.User {
	t.Helper()
	ctx := context.Background()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		Username:     secrets.NormalizeUsername(username),
		Email:        username + "@example.com",
		PasswordHash: string(passwordHash),
	}
	require.NoError(t, repo.CreateUser(ctx, user))
	return user
}

// RecoverySetup is a fixture with known plaintext proof material.
type RecoverySetup struct {
	User        *models.User
	Answer1     string
	Answer2     string
	BackupCodes []string
}

// NewRecoverySetup creates a user with a complete recovery credential
// and a fresh set of backup codes.
func NewRecoverySetup(t *testing.T, repo *repository.Repository, username string) *RecoverySetup {
	t.Helper()
	ctx := context.Background()

	user := NewTestUser(t, repo, username, "OldPass123")

	cred := &models.RecoveryCredential{
		UserID:      user.ID,
		Question1:   "favorite_color",
		Question2:   "first_pet",
		AnswerHash1: secrets.Digest(secrets.NormalizeAnswer("blue")),
		AnswerHash2: secrets.Digest(secrets.NormalizeAnswer("rex")),
	}
	require.NoError(t, repo.CreateRecoveryCredential(ctx, cred))

	codes, err := secrets.NewBackupCodes()
	require.NoError(t, err)
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = secrets.Digest(secrets.NormalizeCode(code))
	}
	require.NoError(t, repo.ReplaceBackupCodes(ctx, user.ID, hashes))

	return &RecoverySetup{
		User:        user,
		Answer1:     "blue",
		Answer2:     "rex",
		BackupCodes: codes,
	}
}

// SetRecoveryEmail marks a verified recovery address on the credential.
func SetRecoveryEmail(t *testing.T, repo *repository.Repository, userID int64, address string) {
	t.Helper()
	ctx := context.Background()

	cred, err := repo.GetRecoveryCredential(ctx, userID)
	require.NoError(t, err)
	cred.RecoveryEmail = address
	cred.RecoveryEmailVerified = true
	require.NoError(t, repo.UpdateRecoveryCredential(ctx, cred))
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}
