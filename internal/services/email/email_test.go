// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"regexp"
	"testing"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/audit"
	"codeberg.org/oliverandrich/go-account-recovery/internal/config"
	"codeberg.org/oliverandrich/go-account-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/email"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
	"codeberg.org/oliverandrich/go-account-recovery/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := i18n.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func validSMTPConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "testuser",
		Password: "testpass",
		From:     "noreply@example.com",
		FromName: "Test App",
		TLS:      true,
	}
}

// sentMail captures outgoing messages instead of dialing SMTP.
type sentMail struct {
	to      string
	subject string
	body    string
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testFixture struct {
	repo    *repository.Repository
	service *email.Service
	clock   *clock
	sent    *[]sentMail
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	service, err := email.NewService(repo, validSMTPConfig(), audit.NewStoreSink(repo), "https://example.com/")
	require.NoError(t, err)

	clk := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	sent := &[]sentMail{}
	service.Configure(
		email.WithClock(clk.Now),
		email.WithSender(func(to, subject, body string) error {
			*sent = append(*sent, sentMail{to: to, subject: subject, body: body})
			return nil
		}),
	)
	return &testFixture{repo: repo, service: service, clock: clk, sent: sent}
}

func TestNewService(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	svc, err := email.NewService(repo, validSMTPConfig(), audit.NoOpSink{}, "https://example.com")

	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNewService_MissingHost(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := validSMTPConfig()
	cfg.Host = ""

	_, err := email.NewService(repo, cfg, audit.NoOpSink{}, "https://example.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP host is required")
}

func TestNewService_MissingFrom(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := validSMTPConfig()
	cfg.From = ""

	_, err := email.NewService(repo, cfg, audit.NoOpSink{}, "https://example.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP from address is required")
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")

	err := f.service.IssueToken(ctx, "alice", "en", "")

	require.NoError(t, err)
	require.Len(t, *f.sent, 1)
	msg := (*f.sent)[0]
	assert.Equal(t, "alice@recovery.example.com", msg.to)
	assert.NotEmpty(t, msg.subject)
	assert.Contains(t, msg.body, "https://example.com/recovery/reset?")
	assert.Contains(t, msg.body, "username=alice")
	assert.Contains(t, msg.body, "token=")
	assert.Contains(t, msg.body, "30")

	// Only the hash is stored, never the plaintext token.
	cred, err := f.repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	assert.Len(t, cred.EmailTokenHash, 64)
	assert.NotContains(t, msg.body, cred.EmailTokenHash)
	require.NotNil(t, cred.EmailTokenExpiresAt)
	assert.WithinDuration(t, f.clock.Now().Add(email.TokenExpiry), *cred.EmailTokenExpiresAt, time.Second)
}

func TestIssueToken_RedirectURL(t *testing.T) {
	f := newFixture(t)

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")

	err := f.service.IssueToken(context.Background(), "alice", "en", "https://app.example.com/reset")

	require.NoError(t, err)
	require.Len(t, *f.sent, 1)
	assert.Contains(t, (*f.sent)[0].body, "https://app.example.com/reset?")
}

func TestIssueToken_Localized(t *testing.T) {
	f := newFixture(t)

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")

	require.NoError(t, f.service.IssueToken(context.Background(), "alice", "de", ""))
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.service.IssueToken(context.Background(), "alice", "en", ""))

	require.Len(t, *f.sent, 2)
	assert.NotEqual(t, (*f.sent)[0].subject, (*f.sent)[1].subject)
}

func TestIssueToken_UnknownUsername(t *testing.T) {
	f := newFixture(t)

	err := f.service.IssueToken(context.Background(), "nobody", "en", "")

	assert.ErrorIs(t, err, reset.ErrUsernameNotFound)
	assert.Empty(t, *f.sent)
}

func TestIssueToken_NoRecoveryEmail(t *testing.T) {
	f := newFixture(t)

	testutil.NewRecoverySetup(t, f.repo, "alice")

	err := f.service.IssueToken(context.Background(), "alice", "en", "")

	assert.ErrorIs(t, err, email.ErrNoRecoveryEmail)
	assert.Empty(t, *f.sent)
}

func TestIssueToken_UnverifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	cred, err := f.repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	cred.RecoveryEmail = "alice@recovery.example.com"
	cred.RecoveryEmailVerified = false
	require.NoError(t, f.repo.UpdateRecoveryCredential(ctx, cred))

	err = f.service.IssueToken(ctx, "alice", "en", "")

	assert.ErrorIs(t, err, email.ErrNoRecoveryEmail)
}

func TestIssueToken_Throttled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")

	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))

	f.clock.Advance(30 * time.Second)
	err := f.service.IssueToken(ctx, "alice", "en", "")
	assert.ErrorIs(t, err, email.ErrThrottled)

	// After the resend interval a new token goes out.
	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))
	assert.Len(t, *f.sent, 2)
}

func TestIssueToken_ReissueInvalidatesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")

	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))
	first, err := f.repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))
	second, err := f.repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.EmailTokenHash, second.EmailTokenHash)
	assert.Equal(t, int64(2), second.EmailAttemptCount)
}

func TestIssueToken_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")
	f.service.Configure(email.WithSender(func(string, string, string) error {
		return errors.New("550 mailbox unavailable")
	}))

	err := f.service.IssueToken(ctx, "alice", "en", "")

	assert.ErrorIs(t, err, email.ErrDeliveryFailed)

	// The token was stored before dispatch.
	cred, err := f.repo.GetRecoveryCredential(ctx, setup.User.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.EmailTokenHash)
}

func TestVerifyToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")
	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))

	token := tokenFromBody(t, (*f.sent)[0].body)

	require.NoError(t, f.service.VerifyToken(ctx, "Alice", token))

	// Verification confirms possession without consuming the token.
	require.NoError(t, f.service.VerifyToken(ctx, "alice", token))
}

func TestVerifyToken_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")
	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))

	err := f.service.VerifyToken(ctx, "alice", "not-the-token")

	assert.ErrorIs(t, err, email.ErrTokenInvalid)
}

func TestVerifyToken_NoneIssued(t *testing.T) {
	f := newFixture(t)

	testutil.NewRecoverySetup(t, f.repo, "alice")

	err := f.service.VerifyToken(context.Background(), "alice", "anything")

	assert.ErrorIs(t, err, email.ErrTokenInvalid)
}

func TestVerifyToken_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup := testutil.NewRecoverySetup(t, f.repo, "alice")
	testutil.SetRecoveryEmail(t, f.repo, setup.User.ID, "alice@recovery.example.com")
	require.NoError(t, f.service.IssueToken(ctx, "alice", "en", ""))
	token := tokenFromBody(t, (*f.sent)[0].body)

	f.clock.Advance(email.TokenExpiry + time.Minute)

	err := f.service.VerifyToken(ctx, "alice", token)

	assert.ErrorIs(t, err, email.ErrTokenExpired)
}

func TestVerifyToken_UnknownUsername(t *testing.T) {
	f := newFixture(t)

	err := f.service.VerifyToken(context.Background(), "nobody", "anything")

	assert.ErrorIs(t, err, reset.ErrUsernameNotFound)
}

func TestReasonCode(t *testing.T) {
	assert.Equal(t, email.ReasonThrottled, email.ReasonCode(email.ErrThrottled))
	assert.Equal(t, email.ReasonTokenExpired, email.ReasonCode(email.ErrTokenExpired))
	assert.Equal(t, reset.ReasonUsernameNotFound, email.ReasonCode(reset.ErrUsernameNotFound))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, email.StatusCode(email.ErrThrottled))
	assert.Equal(t, http.StatusBadRequest, email.StatusCode(email.ErrTokenInvalid))
	assert.Equal(t, http.StatusNotFound, email.StatusCode(reset.ErrUsernameNotFound))
	assert.Equal(t, http.StatusInternalServerError, email.StatusCode(errors.New("boom")))
}

// tokenFromBody extracts the token query parameter from the mailed link.
func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	re := regexp.MustCompile(`token=([0-9a-f]+)`)
	match := re.FindStringSubmatch(body)
	require.Len(t, match, 2)
	return match[1]
}
