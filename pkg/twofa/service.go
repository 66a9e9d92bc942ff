package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stackidm/stepauth/pkg/secrets"
	"github.com/stackidm/stepauth/pkg/totp"
)

const (
	// DefaultIssuer is used as the otpauth issuer when none is configured.
	DefaultIssuer = "stepauth"

	// DefaultProvider names the authentication provider secrets are
	// recorded under when none is configured.
	DefaultProvider = "stepauth"

	// DefaultSecretBits is the generated secret strength in bits.
	DefaultSecretBits = 160
)

// EnrollmentStatus is the tri-state enrollment state of an account.
type EnrollmentStatus string

const (
	StatusNone    EnrollmentStatus = "none"
	StatusPending EnrollmentStatus = "pending"
	StatusEnabled EnrollmentStatus = "enabled"
)

// Enrollment is returned from StartEnrollment; the URI is rendered as a
// QR image by the caller's UI layer.
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// Service orchestrates the TOTP engine and the secret store. It owns the
// secret lifecycle invariants and holds no mutable state of its own, so
// a single instance is safe to share across concurrent requests.
type Service struct {
	repo       secrets.SecretRepository
	engine     *totp.Engine
	issuer     string
	provider   string
	secretBits int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIssuer sets the application name used as the otpauth issuer label.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithProvider sets the authentication provider name records are keyed by.
func WithProvider(provider string) ServiceOption {
	return func(s *Service) {
		s.provider = provider
	}
}

// WithSecretBits sets the generated secret strength in bits.
func WithSecretBits(bits int) ServiceOption {
	return func(s *Service) {
		s.secretBits = bits
	}
}

// NewService creates a two-factor service on top of a secret repository
// and a TOTP engine.
func NewService(repo secrets.SecretRepository, engine *totp.Engine, opts ...ServiceOption) *Service {
	s := &Service{
		repo:       repo,
		engine:     engine,
		issuer:     DefaultIssuer,
		provider:   DefaultProvider,
		secretBits: DefaultSecretBits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) key(accountID string) secrets.Key {
	return secrets.Key{AccountID: accountID, Provider: s.provider}
}

// IsEnabled reports whether the account has a confirmed two-factor secret.
func (s *Service) IsEnabled(ctx context.Context, accountID string) (bool, error) {
	record, err := s.repo.Get(ctx, s.key(accountID))
	if errors.Is(err, secrets.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get 2FA record: %w", err)
	}
	return record.Enabled, nil
}

// Status reports the enrollment state for an account.
func (s *Service) Status(ctx context.Context, accountID string) (EnrollmentStatus, error) {
	record, err := s.repo.Get(ctx, s.key(accountID))
	if errors.Is(err, secrets.ErrRecordNotFound) {
		return StatusNone, nil
	}
	if err != nil {
		return StatusNone, fmt.Errorf("failed to get 2FA record: %w", err)
	}
	switch {
	case record.Enabled:
		return StatusEnabled, nil
	case record.PendingSecret != "":
		return StatusPending, nil
	default:
		return StatusNone, nil
	}
}

// StartEnrollment generates a pending secret for the account, or re-uses
// the existing pending one so that repeated setup page loads do not burn
// new secrets. It never touches an already-enabled record's active
// secret.
func (s *Service) StartEnrollment(ctx context.Context, accountID, label string) (Enrollment, error) {
	record, err := s.repo.Get(ctx, s.key(accountID))
	switch {
	case errors.Is(err, secrets.ErrRecordNotFound):
		record = secrets.SecretRecord{AccountID: accountID, Provider: s.provider}
	case err != nil:
		return Enrollment{}, fmt.Errorf("failed to get 2FA record: %w", err)
	case record.Enabled:
		return Enrollment{}, ErrAlreadyEnabled
	}

	if record.PendingSecret != "" {
		uri, err := s.engine.ProvisioningURI(s.issuer, label, record.PendingSecret)
		if err != nil {
			return Enrollment{}, fmt.Errorf("failed to rebuild provisioning URI: %w", err)
		}
		return Enrollment{Secret: record.PendingSecret, ProvisioningURI: uri}, nil
	}

	secret, uri, err := s.engine.GenerateSecret(s.issuer, label, s.secretBits)
	if err != nil {
		return Enrollment{}, fmt.Errorf("failed to generate 2FA secret: %w", err)
	}

	record.PendingSecret = secret
	record.Enabled = false
	if err := s.repo.Put(ctx, record); err != nil {
		return Enrollment{}, fmt.Errorf("failed to store pending secret: %w", err)
	}

	slog.Info("Started 2FA enrollment", "accountID", accountID, "provider", s.provider)
	return Enrollment{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmEnrollment verifies the submitted code against the pending
// secret and, on success, promotes it to the active secret. The matched
// time step seeds the replay floor so the confirmation code cannot be
// reused for a login immediately after.
func (s *Service) ConfirmEnrollment(ctx context.Context, accountID, code string) error {
	if !totp.ValidCodeFormat(code) {
		return ErrInvalidCode
	}

	record, err := s.repo.Get(ctx, s.key(accountID))
	if errors.Is(err, secrets.ErrRecordNotFound) {
		return ErrNoPendingEnrollment
	}
	if err != nil {
		return fmt.Errorf("failed to get 2FA record: %w", err)
	}
	if record.Enabled {
		return ErrAlreadyEnabled
	}
	if record.PendingSecret == "" {
		return ErrNoPendingEnrollment
	}

	ok, step, err := s.engine.MatchedStep(record.PendingSecret, code)
	if err != nil {
		if errors.Is(err, totp.ErrInvalidCodeFormat) {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to verify 2FA code: %w", err)
	}
	if !ok {
		slog.Warn("2FA enrollment confirmation failed", "accountID", accountID)
		return ErrInvalidCode
	}

	record.Secret = record.PendingSecret
	record.PendingSecret = ""
	record.Enabled = true
	record.LastUsedStep = step
	if err := s.repo.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to enable 2FA: %w", err)
	}

	slog.Info("2FA enabled", "accountID", accountID, "provider", s.provider)
	return nil
}

// VerifyLoginCode verifies a login code against the active secret with
// the replay window and, on acceptance, advances the persisted
// last-used step. The advance write only happens after a successful
// verification.
func (s *Service) VerifyLoginCode(ctx context.Context, accountID, code string) error {
	if !totp.ValidCodeFormat(code) {
		return ErrInvalidCode
	}

	record, err := s.repo.Get(ctx, s.key(accountID))
	if errors.Is(err, secrets.ErrRecordNotFound) {
		return ErrNotEnrolled
	}
	if err != nil {
		return fmt.Errorf("failed to get 2FA record: %w", err)
	}
	if !record.Enabled {
		return ErrNotEnrolled
	}

	ok, step, err := s.verify(record, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	record.LastUsedStep = step
	if err := s.repo.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to advance last used step: %w", err)
	}
	return nil
}

// Disable removes the account's two-factor secret. Disabling is itself a
// privileged action guarded by the second factor: a current valid code
// is required, the primary credential alone is not enough.
func (s *Service) Disable(ctx context.Context, accountID, code string) error {
	if !totp.ValidCodeFormat(code) {
		return ErrInvalidCode
	}

	record, err := s.repo.Get(ctx, s.key(accountID))
	if errors.Is(err, secrets.ErrRecordNotFound) {
		return ErrNotEnrolled
	}
	if err != nil {
		return fmt.Errorf("failed to get 2FA record: %w", err)
	}
	if !record.Enabled {
		return ErrNotEnrolled
	}

	ok, _, err := s.verify(record, code)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("2FA disable rejected", "accountID", accountID)
		return ErrInvalidCode
	}

	if err := s.repo.Delete(ctx, s.key(accountID)); err != nil {
		return fmt.Errorf("failed to delete 2FA record: %w", err)
	}

	slog.Info("2FA disabled", "accountID", accountID, "provider", s.provider)
	return nil
}

// verify runs the windowed check and logs replays distinctly for audit
// purposes; the caller still reports one undifferentiated failure.
func (s *Service) verify(record secrets.SecretRecord, code string) (bool, int64, error) {
	ok, step, err := s.engine.VerifyWithWindow(record.Secret, code, record.LastUsedStep)
	if err != nil {
		if errors.Is(err, totp.ErrInvalidCodeFormat) {
			return false, 0, ErrInvalidCode
		}
		return false, 0, fmt.Errorf("failed to verify 2FA code: %w", err)
	}
	if !ok {
		if replayed, _ := s.engine.VerifyOnce(record.Secret, code); replayed {
			slog.Warn("Replayed 2FA code rejected", "accountID", record.AccountID, "lastUsedStep", record.LastUsedStep)
		} else {
			slog.Warn("2FA code rejected", "accountID", record.AccountID)
		}
	}
	return ok, step, nil
}
