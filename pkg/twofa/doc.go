// Package twofa manages the TOTP second-factor lifecycle for stepauth.
//
// # Overview
//
// The twofa package provides:
//   - Enrollment: generate a pending secret and provisioning URI
//   - Confirmation: prove possession of the authenticator, then enable
//   - Login verification: windowed TOTP check with replay protection
//   - Disable: remove the secret, gated by a current valid code
//   - Status: none / pending / enabled
//
// # Secret lifecycle
//
// A secret is pending from StartEnrollment until ConfirmEnrollment
// succeeds; pending secrets never authenticate a login. Confirmation
// promotes the pending secret and records the confirming time step as
// the replay floor, so the same code cannot be reused to log in.
// VerifyLoginCode advances the floor on every accepted code.
//
// # Basic Usage
//
//	repo, _ := secrets.NewSecretRepository("file", secrets.RepositoryConfig{DataDir: "./data"})
//	service := twofa.NewService(repo, totp.NewEngine(), twofa.WithIssuer("myapp"))
//
//	enrollment, _ := service.StartEnrollment(ctx, accountID, "alice@example.com")
//	// render enrollment.ProvisioningURI as a QR code, then:
//	_ = service.ConfirmEnrollment(ctx, accountID, codeFromAuthenticator)
//
//	// during login:
//	err := service.VerifyLoginCode(ctx, accountID, submittedCode)
//
// # Related Packages
//
//   - pkg/totp - RFC 6238 code generation and verification
//   - pkg/secrets - secret record persistence
//   - pkg/authflow - the login state machine calling VerifyLoginCode
package twofa
