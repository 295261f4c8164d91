// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/secrets"
	"codeberg.org/oliverandrich/go-account-recovery/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecoveryCredential(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice", "Password123")

	cred := &models.RecoveryCredential{
		UserID:      user.ID,
		Question1:   "favorite_color",
		Question2:   "first_pet",
		AnswerHash1: secrets.Digest("blue"),
		AnswerHash2: secrets.Digest("rex"),
	}
	err := repo.CreateRecoveryCredential(ctx, cred)

	require.NoError(t, err)
	assert.NotZero(t, cred.ID)
}

func TestCreateRecoveryCredential_OnePerUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")

	dup := &models.RecoveryCredential{
		UserID:      setup.User.ID,
		Question1:   "other",
		Question2:   "questions",
		AnswerHash1: secrets.Digest("a"),
		AnswerHash2: secrets.Digest("b"),
	}
	err := repo.CreateRecoveryCredential(ctx, dup)

	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestGetRecoveryCredential_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.NewTestUser(t, repo, "alice", "Password123")

	_, err := repo.GetRecoveryCredential(ctx, user.ID)

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateRecoveryCredential(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")

	cred, err := repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	cred.Question1 = "mothers_maiden_name"
	cred.AnswerHash1 = secrets.Digest("smith")
	require.NoError(t, repo.UpdateRecoveryCredential(ctx, cred))

	updated, err := repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "mothers_maiden_name", updated.Question1)
	assert.Equal(t, secrets.Digest("smith"), updated.AnswerHash1)
	assert.Equal(t, "first_pet", updated.Question2)
}

func TestReplaceBackupCodes(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")

	// Burn one code, then replace the whole set.
	usedHash := secrets.Digest(secrets.NormalizeCode(setup.BackupCodes[0]))
	consumed, err := repo.ConsumeBackupCode(ctx, setup.User.ID, usedHash)
	require.NoError(t, err)
	require.True(t, consumed)

	fresh := []string{secrets.Digest("AAA-111"), secrets.Digest("BBB-222")}
	require.NoError(t, repo.ReplaceBackupCodes(ctx, setup.User.ID, fresh))

	codes, err := repo.GetBackupCodes(ctx, setup.User.ID)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	for _, code := range codes {
		assert.False(t, code.Used)
	}
}

func TestGetBackupCodeByHash(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")
	hash := secrets.Digest(secrets.NormalizeCode(setup.BackupCodes[2]))

	code, err := repo.GetBackupCodeByHash(ctx, setup.User.ID, hash)

	require.NoError(t, err)
	assert.Equal(t, hash, code.CodeHash)
	assert.False(t, code.Used)
}

func TestGetBackupCodeByHash_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")

	_, err := repo.GetBackupCodeByHash(ctx, setup.User.ID, secrets.Digest("ZZZ-999"))

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsumeBackupCode(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")
	hash := secrets.Digest(secrets.NormalizeCode(setup.BackupCodes[0]))

	consumed, err := repo.ConsumeBackupCode(ctx, setup.User.ID, hash)
	require.NoError(t, err)
	assert.True(t, consumed)

	// Second redemption of the same code must fail.
	consumed, err = repo.ConsumeBackupCode(ctx, setup.User.ID, hash)
	require.NoError(t, err)
	assert.False(t, consumed)

	code, err := repo.GetBackupCodeByHash(ctx, setup.User.ID, hash)
	require.NoError(t, err)
	assert.True(t, code.Used)
	assert.NotNil(t, code.UsedAt)
}

func TestConsumeBackupCode_Concurrent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")
	hash := secrets.Digest(secrets.NormalizeCode(setup.BackupCodes[0]))

	const workers = 8
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := repo.ConsumeBackupCode(ctx, setup.User.ID, hash)
			require.NoError(t, err)
			results[i] = consumed
		}()
	}
	wg.Wait()

	winners := 0
	for _, consumed := range results {
		if consumed {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSetEmailToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")
	now := testNow()

	err := repo.SetEmailToken(ctx, setup.User.ID, secrets.Digest("token"), now.Add(30*time.Minute), now)

	require.NoError(t, err)

	cred, err := repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	assert.Equal(t, secrets.Digest("token"), cred.EmailTokenHash)
	require.NotNil(t, cred.EmailTokenExpiresAt)
	require.NotNil(t, cred.EmailTokenSentAt)
	assert.Equal(t, int64(1), cred.EmailAttemptCount)
}

func TestClearEmailToken(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, repo, "alice")
	now := testNow()
	require.NoError(t, repo.SetEmailToken(ctx, setup.User.ID, secrets.Digest("token"), now.Add(30*time.Minute), now))

	require.NoError(t, repo.ClearEmailToken(ctx, setup.User.ID))

	cred, err := repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	assert.Empty(t, cred.EmailTokenHash)
	assert.Nil(t, cred.EmailTokenExpiresAt)
	assert.Nil(t, cred.EmailTokenSentAt)
}

func TestDeleteExpiredEmailTokens(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	expired := testutil.NewRecoverySetup(t, repo, "alice")
	current := testutil.NewRecoverySetup(t, repo, "bob")
	require.NoError(t, repo.SetEmailToken(ctx, expired.User.ID, secrets.Digest("old"),
		time.Now().Add(-time.Minute), time.Now().Add(-31*time.Minute)))
	require.NoError(t, repo.SetEmailToken(ctx, current.User.ID, secrets.Digest("new"),
		time.Now().Add(30*time.Minute), time.Now()))

	require.NoError(t, repo.DeleteExpiredEmailTokens(ctx))

	cred, err := repo.GetRecoveryCredential(ctx, expired.User.ID)
	require.NoError(t, err)
	assert.Empty(t, cred.EmailTokenHash)

	cred, err = repo.GetRecoveryCredential(ctx, current.User.ID)
	require.NoError(t, err)
	assert.Equal(t, secrets.Digest("new"), cred.EmailTokenHash)
}
