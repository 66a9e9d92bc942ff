// Package totp implements RFC 6238 time-based one-time passwords with
// a verification window and replay floor.
package totp

import (
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultPeriod is the RFC 6238 time step length in seconds.
	DefaultPeriod = 30

	// DefaultSkew is the number of time steps accepted on either side of
	// the current step to tolerate clock drift.
	DefaultSkew = 1

	// MinSecretBits is the policy minimum strength for generated secrets.
	MinSecretBits = 80
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCodeFormat reports whether a submitted code is exactly six
// decimal digits. Callers reject malformed input with this check before
// doing any cryptographic or storage work.
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Engine computes and verifies RFC 6238 time-based one-time passwords.
// It is stateless apart from its fixed policy parameters and is safe to
// share across goroutines; construct one instance at process start.
type Engine struct {
	period uint
	skew   int64
	digits otp.Digits
	algo   otp.Algorithm
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPeriod overrides the time step length in seconds.
func WithPeriod(seconds uint) Option {
	return func(e *Engine) {
		e.period = seconds
	}
}

// WithSkew overrides the number of accepted steps on either side of now.
func WithSkew(steps int64) Option {
	return func(e *Engine) {
		e.skew = steps
	}
}

// WithClock overrides the wall clock, used by tests to pin time steps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine with 30s steps, 6 digits, SHA-1 HMAC and a
// skew of one step unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		period: DefaultPeriod,
		skew:   DefaultSkew,
		digits: otp.DigitsSix,
		algo:   otp.AlgorithmSHA1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Skew returns the configured window size in steps.
func (e *Engine) Skew() int64 {
	return e.skew
}

// CurrentStep returns the time step index for the engine's current time.
func (e *Engine) CurrentStep() int64 {
	return e.StepAt(e.now())
}

// StepAt returns the time step index for the given instant.
func (e *Engine) StepAt(t time.Time) int64 {
	return t.UTC().Unix() / int64(e.period)
}

// GenerateSecret generates a fresh base32 secret of the requested
// strength together with the otpauth:// provisioning URI for it.
func (e *Engine) GenerateSecret(issuer, label string, bits int) (string, string, error) {
	if bits < MinSecretBits {
		return "", "", fmt.Errorf("%w: %d bits, minimum is %d", ErrWeakSecret, bits, MinSecretBits)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: label,
		SecretSize:  uint((bits + 7) / 8),
		Period:      e.period,
		Digits:      e.digits,
		Algorithm:   e.algo,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "issuer", issuer, "error", err)
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ProvisioningURI rebuilds the otpauth:// URI for an existing secret, so
// that repeated setup page loads do not burn new secrets.
func (e *Engine) ProvisioningURI(issuer, label, secret string) (string, error) {
	if err := e.checkSecret(secret); err != nil {
		return "", err
	}
	normalized := strings.TrimRight(strings.ToUpper(strings.TrimSpace(secret)), "=")
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: not valid base32", ErrInvalidSecret)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: label,
		Secret:      raw,
		Period:      e.period,
		Digits:      e.digits,
		Algorithm:   e.algo,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning URI: %w", err)
	}
	return key.URL(), nil
}

// CodeAt computes the code for an explicit time step index.
func (e *Engine) CodeAt(secret string, step int64) (string, error) {
	if err := e.checkSecret(secret); err != nil {
		return "", err
	}
	at := time.Unix(step*int64(e.period), 0).UTC()
	code, err := totp.GenerateCodeCustom(secret, at, e.validateOpts(0))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}

// VerifyWithWindow scans the steps in [current-skew, current+skew],
// excluding any step at or before lastStep, and reports the first match.
// The matched step index must be persisted by the caller so the same
// code can never be accepted twice.
func (e *Engine) VerifyWithWindow(secret, code string, lastStep int64) (bool, int64, error) {
	if !codePattern.MatchString(code) {
		return false, 0, ErrInvalidCodeFormat
	}
	if err := e.checkSecret(secret); err != nil {
		return false, 0, err
	}

	current := e.CurrentStep()
	for step := current - e.skew; step <= current+e.skew; step++ {
		if step <= lastStep {
			continue
		}
		expected, err := e.CodeAt(secret, step)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, step, nil
		}
	}
	return false, 0, nil
}

// VerifyOnce checks a code against the current window without any prior
// state. It is only suitable for enrollment confirmation, where no
// last-accepted step exists yet.
func (e *Engine) VerifyOnce(secret, code string) (bool, error) {
	ok, _, err := e.VerifyWithWindow(secret, code, e.CurrentStep()-e.skew-1)
	return ok, err
}

// MatchedStep behaves like VerifyOnce but additionally reports the step
// that matched, so the caller can seed replay protection from it.
func (e *Engine) MatchedStep(secret, code string) (bool, int64, error) {
	return e.VerifyWithWindow(secret, code, e.CurrentStep()-e.skew-1)
}

func (e *Engine) checkSecret(secret string) error {
	secret = strings.TrimRight(strings.ToUpper(strings.TrimSpace(secret)), "=")
	if secret == "" {
		return fmt.Errorf("%w: empty secret", ErrInvalidSecret)
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return fmt.Errorf("%w: not valid base32", ErrInvalidSecret)
	}
	if len(raw)*8 < MinSecretBits {
		return fmt.Errorf("%w: secret too short", ErrInvalidSecret)
	}
	return nil
}

func (e *Engine) validateOpts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    e.period,
		Skew:      skew,
		Digits:    e.digits,
		Algorithm: e.algo,
	}
}
