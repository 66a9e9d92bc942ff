package totp

import "errors"

var (
	// ErrWeakSecret is returned when the requested secret length is below
	// the policy minimum.
	ErrWeakSecret = errors.New("secret length below policy minimum")

	// ErrInvalidSecret is returned when a secret is empty, not valid
	// base32 or too short to verify against.
	ErrInvalidSecret = errors.New("invalid totp secret")

	// ErrInvalidCodeFormat is returned when a submitted code is not
	// exactly six decimal digits. No cryptographic work is performed.
	ErrInvalidCodeFormat = errors.New("code must consist of 6 digits")
)
