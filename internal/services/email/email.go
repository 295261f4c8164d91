// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email implements the out-of-band recovery channel: it issues
// single-use, expiring, hashed tokens delivered to a pre-registered
// recovery address, and verifies submitted tokens without resetting
// the password.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/go-account-recovery/internal/audit"
	"codeberg.org/oliverandrich/go-account-recovery/internal/config"
	"codeberg.org/oliverandrich/go-account-recovery/internal/i18n"
	"codeberg.org/oliverandrich/go-account-recovery/internal/models"
	"codeberg.org/oliverandrich/go-account-recovery/internal/repository"
	"codeberg.org/oliverandrich/go-account-recovery/internal/secrets"
	"codeberg.org/oliverandrich/go-account-recovery/internal/services/reset"
	"github.com/wneessen/go-mail"
	"golang.org/x/text/language"
)

const (
	// TokenExpiry is how long a recovery token stays valid.
	TokenExpiry = 30 * time.Minute
	// ResendInterval throttles token re-issue per account.
	ResendInterval = 60 * time.Second
)

var (
	ErrNoRecoveryEmail = errors.New("no verified recovery email on file")
	ErrThrottled       = errors.New("recovery email throttled")
	ErrTokenInvalid    = errors.New("recovery token invalid")
	ErrTokenExpired    = errors.New("recovery token expired")
	// ErrDeliveryFailed means the token was stored but the provider
	// rejected the message. Reported separately from storage failures.
	ErrDeliveryFailed = errors.New("recovery email delivery failed")
)

// Reason codes for the email channel.
const (
	ReasonNoRecoveryEmail = "NO_RECOVERY_EMAIL"
	ReasonThrottled       = "RECOVERY_EMAIL_THROTTLED"
	ReasonTokenInvalid    = "RECOVERY_TOKEN_INVALID"
	ReasonTokenExpired    = "RECOVERY_TOKEN_EXPIRED"
	ReasonDeliveryFailed  = "RECOVERY_EMAIL_DELIVERY_FAILED"
)

// ReasonCode maps an email channel error to its stable reason code,
// falling back to the completion handshake's mapping.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrNoRecoveryEmail):
		return ReasonNoRecoveryEmail
	case errors.Is(err, ErrThrottled):
		return ReasonThrottled
	case errors.Is(err, ErrTokenInvalid):
		return ReasonTokenInvalid
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, ErrDeliveryFailed):
		return ReasonDeliveryFailed
	default:
		return reset.ReasonCode(err)
	}
}

// StatusCode maps an email channel error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoRecoveryEmail),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired):
		return http.StatusBadRequest
	default:
		return reset.StatusCode(err)
	}
}

// Service issues and verifies email recovery tokens.
type Service struct { //nolint:govet // fieldalignment: readability over optimization
	repo    *repository.Repository
	cfg     *config.SMTPConfig
	sink    audit.Sink
	baseURL string
	now     func() time.Time
	// send is swappable for tests.
	send func(to, subject, body string) error
}

// NewService creates a new email channel service.
func NewService(repo *repository.Repository, cfg *config.SMTPConfig, sink audit.Sink, baseURL string) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	s := &Service{
		repo:    repo,
		cfg:     cfg,
		sink:    sink,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
	s.send = s.sendSMTP
	return s, nil
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSender overrides the delivery provider. Used in tests.
func WithSender(send func(to, subject, body string) error) Option {
	return func(s *Service) {
		s.send = send
	}
}

// Configure applies options after construction.
func (s *Service) Configure(opts ...Option) *Service {
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueToken generates a recovery token, stores only its hash with a
// 30-minute expiry, and dispatches the plaintext token in a link to
// the registered recovery address.
func (s *Service) IssueToken(ctx context.Context, username, locale, redirectURL string) error {
	err := s.issueToken(ctx, username, locale, redirectURL)
	s.emit(ctx, username, err)
	return err
}

func (s *Service) issueToken(ctx context.Context, username, locale, redirectURL string) error {
	username = secrets.NormalizeUsername(username)

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reset.ErrUsernameNotFound
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	cred, err := s.repo.GetRecoveryCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reset.ErrRecoveryNotSetup
		}
		return fmt.Errorf("failed to look up recovery credential: %w", err)
	}
	if cred.RecoveryEmail == "" || !cred.RecoveryEmailVerified {
		return ErrNoRecoveryEmail
	}

	now := s.now()
	if cred.EmailTokenSentAt != nil && now.Sub(*cred.EmailTokenSentAt) < ResendInterval {
		return ErrThrottled
	}

	token, err := secrets.NewToken()
	if err != nil {
		return err
	}
	tokenHash := secrets.Digest(token)

	// Store before dispatch so a delivery failure is distinguishable
	// from a storage failure.
	if err := s.repo.SetEmailToken(ctx, user.ID, tokenHash, now.Add(TokenExpiry), now); err != nil {
		return fmt.Errorf("failed to store recovery token: %w", err)
	}

	lctx := i18n.WithLocale(ctx, language.Make(locale))
	subject := i18n.T(lctx, "recovery_email_subject")
	body := i18n.TData(lctx, "recovery_email_body", map[string]any{
		"RecoveryURL":   s.recoveryURL(redirectURL, username, token),
		"ExpiryMinutes": int(TokenExpiry.Minutes()),
	})

	if err := s.send(cred.RecoveryEmail, subject, body); err != nil {
		slog.Error("recovery_email_delivery_failed", "username", username, "error", err)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	slog.Info("recovery_email_sent", "username", username, "locale", locale)
	return nil
}

// VerifyToken checks a submitted token against the stored hash and the
// expiry. It only confirms possession: the token is not consumed and
// no password changes.
func (s *Service) VerifyToken(ctx context.Context, username, token string) error {
	err := s.verifyToken(ctx, username, token)
	s.emit(ctx, username, err)
	return err
}

func (s *Service) verifyToken(ctx context.Context, username, token string) error {
	username = secrets.NormalizeUsername(username)

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reset.ErrUsernameNotFound
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	cred, err := s.repo.GetRecoveryCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return reset.ErrRecoveryNotSetup
		}
		return fmt.Errorf("failed to look up recovery credential: %w", err)
	}

	tokenHash := secrets.Digest(strings.TrimSpace(token))
	if cred.EmailTokenHash == "" || !secrets.Equal(tokenHash, cred.EmailTokenHash) {
		return ErrTokenInvalid
	}
	if cred.EmailTokenExpiresAt == nil || s.now().After(*cred.EmailTokenExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// recoveryURL embeds the token in the reset link.
func (s *Service) recoveryURL(redirectURL, username, token string) string {
	base := redirectURL
	if base == "" {
		base = s.baseURL + "/recovery/reset"
	}
	query := url.Values{}
	query.Set("username", username)
	query.Set("token", token)
	return base + "?" + query.Encode()
}

func (s *Service) emit(ctx context.Context, username string, err error) {
	entry := audit.Entry{
		Username:    secrets.NormalizeUsername(username),
		AttemptType: models.AttemptRecovery,
		Success:     err == nil,
		Timestamp:   s.now(),
	}
	if err != nil {
		entry.FailureReason = ReasonCode(err)
	}
	s.sink.Emit(ctx, entry)
}

// sendSMTP delivers an email via SMTP using go-mail.
func (s *Service) sendSMTP(to, subject, body string) error {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
	}

	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Implicit TLS for port 465, STARTTLS for others.
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}
