package twofa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackidm/stepauth/pkg/secrets"
	"github.com/stackidm/stepauth/pkg/totp"
)

// countingRepository wraps a repository and counts every access, used to
// prove that malformed codes are rejected before any storage work.
type countingRepository struct {
	inner    secrets.SecretRepository
	accesses int
}

func (c *countingRepository) Get(ctx context.Context, key secrets.Key) (secrets.SecretRecord, error) {
	c.accesses++
	return c.inner.Get(ctx, key)
}

func (c *countingRepository) Put(ctx context.Context, record secrets.SecretRecord) error {
	c.accesses++
	return c.inner.Put(ctx, record)
}

func (c *countingRepository) Delete(ctx context.Context, key secrets.Key) error {
	c.accesses++
	return c.inner.Delete(ctx, key)
}

// testHarness bundles a service with a controllable clock so tests can
// move between time steps deterministically.
type testHarness struct {
	service *Service
	engine  *totp.Engine
	repo    *countingRepository
	now     time.Time
}

func newHarness(t *testing.T) *testHarness {
	h := &testHarness{
		now:  time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		repo: &countingRepository{inner: secrets.NewInMemSecretRepository()},
	}
	h.engine = totp.NewEngine(totp.WithClock(func() time.Time { return h.now }))
	h.service = NewService(h.repo, h.engine, WithIssuer("stepauth-test"))
	return h
}

// advance moves the clock forward by whole time steps.
func (h *testHarness) advance(steps int64) {
	h.now = h.now.Add(time.Duration(steps) * totp.DefaultPeriod * time.Second)
}

// enroll runs a full enrollment for a fresh account and returns the
// account ID and active secret.
func (h *testHarness) enroll(t *testing.T) (string, string) {
	accountID := uuid.New().String()
	enrollment, err := h.service.StartEnrollment(context.Background(), accountID, "user@example.com")
	require.NoError(t, err)

	code, err := h.engine.CodeAt(enrollment.Secret, h.engine.CurrentStep())
	require.NoError(t, err)
	require.NoError(t, h.service.ConfirmEnrollment(context.Background(), accountID, code))

	return accountID, enrollment.Secret
}

func TestStartEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := uuid.New().String()

	t.Run("CreatesPendingRecord", func(t *testing.T) {
		enrollment, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, enrollment.Secret)
		assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
		assert.Contains(t, enrollment.ProvisioningURI, "issuer=stepauth-test")

		status, err := h.service.Status(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)

		enabled, err := h.service.IsEnabled(ctx, accountID)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("IdempotentWhilePending", func(t *testing.T) {
		first, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)
		second, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.Secret, second.Secret)
		assert.Equal(t, first.ProvisioningURI, second.ProvisioningURI)
	})

	t.Run("RejectedWhenAlreadyEnabled", func(t *testing.T) {
		enabledAccount, _ := h.enroll(t)
		_, err := h.service.StartEnrollment(ctx, enabledAccount, "user@example.com")
		assert.ErrorIs(t, err, ErrAlreadyEnabled)
	})
}

func TestConfirmEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("PromotesPendingSecret", func(t *testing.T) {
		accountID := uuid.New().String()
		enrollment, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)

		code, err := h.engine.CodeAt(enrollment.Secret, h.engine.CurrentStep())
		require.NoError(t, err)
		require.NoError(t, h.service.ConfirmEnrollment(ctx, accountID, code))

		enabled, err := h.service.IsEnabled(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("WrongCodeLeavesRecordPending", func(t *testing.T) {
		accountID := uuid.New().String()
		enrollment, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)

		// A code from far outside the window can never match.
		wrong, err := h.engine.CodeAt(enrollment.Secret, h.engine.CurrentStep()+100)
		require.NoError(t, err)
		err = h.service.ConfirmEnrollment(ctx, accountID, wrong)
		assert.ErrorIs(t, err, ErrInvalidCode)

		status, err := h.service.Status(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	})

	t.Run("NoEnrollmentStarted", func(t *testing.T) {
		err := h.service.ConfirmEnrollment(ctx, uuid.New().String(), "123456")
		assert.ErrorIs(t, err, ErrNoPendingEnrollment)
	})

	t.Run("ConfirmationCodeCannotBeReplayedAsLogin", func(t *testing.T) {
		accountID := uuid.New().String()
		enrollment, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)

		code, err := h.engine.CodeAt(enrollment.Secret, h.engine.CurrentStep())
		require.NoError(t, err)
		require.NoError(t, h.service.ConfirmEnrollment(ctx, accountID, code))

		err = h.service.VerifyLoginCode(ctx, accountID, code)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})
}

func TestVerifyLoginCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("AcceptsFreshCodeAndAdvancesStep", func(t *testing.T) {
		accountID, secret := h.enroll(t)

		h.advance(1)
		code, err := h.engine.CodeAt(secret, h.engine.CurrentStep())
		require.NoError(t, err)
		require.NoError(t, h.service.VerifyLoginCode(ctx, accountID, code))

		// The accepted step is persisted: the same code is now invalid.
		err = h.service.VerifyLoginCode(ctx, accountID, code)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("LaterStepAfterReplayStillWorks", func(t *testing.T) {
		accountID, secret := h.enroll(t)

		h.advance(1)
		code, err := h.engine.CodeAt(secret, h.engine.CurrentStep())
		require.NoError(t, err)
		require.NoError(t, h.service.VerifyLoginCode(ctx, accountID, code))

		h.advance(1)
		next, err := h.engine.CodeAt(secret, h.engine.CurrentStep())
		require.NoError(t, err)
		assert.NoError(t, h.service.VerifyLoginCode(ctx, accountID, next))
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		err := h.service.VerifyLoginCode(ctx, uuid.New().String(), "123456")
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})

	t.Run("PendingOnlyIsNotEnrolled", func(t *testing.T) {
		accountID := uuid.New().String()
		_, err := h.service.StartEnrollment(ctx, accountID, "user@example.com")
		require.NoError(t, err)

		err = h.service.VerifyLoginCode(ctx, accountID, "123456")
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})

	t.Run("MalformedCodeSkipsStore", func(t *testing.T) {
		before := h.repo.accesses
		err := h.service.VerifyLoginCode(ctx, uuid.New().String(), "123abc")
		assert.ErrorIs(t, err, ErrInvalidCode)
		assert.Equal(t, before, h.repo.accesses, "store must not be touched for malformed codes")
	})
}

func TestDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("RequiresValidCode", func(t *testing.T) {
		accountID, secret := h.enroll(t)

		wrong, err := h.engine.CodeAt(secret, h.engine.CurrentStep()+100)
		require.NoError(t, err)
		err = h.service.Disable(ctx, accountID, wrong)
		assert.ErrorIs(t, err, ErrInvalidCode)

		enabled, err := h.service.IsEnabled(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, enabled, "failed disable must leave 2FA enabled")
	})

	t.Run("DeletesRecordOnValidCode", func(t *testing.T) {
		accountID, secret := h.enroll(t)

		h.advance(1)
		code, err := h.engine.CodeAt(secret, h.engine.CurrentStep())
		require.NoError(t, err)
		require.NoError(t, h.service.Disable(ctx, accountID, code))

		status, err := h.service.Status(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, StatusNone, status)
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		err := h.service.Disable(ctx, uuid.New().String(), "123456")
		assert.ErrorIs(t, err, ErrNotEnrolled)
	})
}
