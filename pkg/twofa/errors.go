package twofa

import "errors"

var (
	// ErrInvalidCode is returned when a submitted code is malformed,
	// expired, replayed or simply wrong. Callers must not surface a more
	// detailed reason to the end user.
	ErrInvalidCode = errors.New("invalid code")

	// ErrNotEnrolled is returned when an account has no enabled
	// two-factor record.
	ErrNotEnrolled = errors.New("two-factor authentication not enrolled")

	// ErrAlreadyEnabled is returned when enrollment is started for an
	// account that already has an active secret.
	ErrAlreadyEnabled = errors.New("two-factor authentication already enabled")

	// ErrNoPendingEnrollment is returned when a confirmation arrives
	// without a preceding enrollment.
	ErrNoPendingEnrollment = errors.New("no pending enrollment")
)
