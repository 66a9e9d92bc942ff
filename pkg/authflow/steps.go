package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stackidm/stepauth/pkg/login"
	"github.com/stackidm/stepauth/pkg/twofa"
)

// CredentialStep verifies the primary username/password credential. It
// calls the credential verifier exactly once per attempt.
type CredentialStep struct{}

func NewCredentialStep() *CredentialStep { return &CredentialStep{} }

func (s *CredentialStep) Name() string { return "credential" }
func (s *CredentialStep) Order() int   { return OrderCredential }

func (s *CredentialStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *CredentialStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account, err := flowContext.Services.Credentials.VerifyCredentials(ctx, flowContext.Attempt.Username, flowContext.Attempt.Password)
	if err != nil {
		slog.Info("primary credential rejected", "username", flowContext.Attempt.Username)
		return &StepResult{Error: &FlowError{
			Type:    "invalid_credentials",
			Message: "Authentication failed",
		}}, nil
	}

	flowContext.Result.Account = account
	return &StepResult{Continue: true}, nil
}

// TempTokenStep resumes a half-finished login from a temporary token
// instead of re-checking the password. It replaces CredentialStep in
// the OTP resume flow.
type TempTokenStep struct{}

func NewTempTokenStep() *TempTokenStep { return &TempTokenStep{} }

func (s *TempTokenStep) Name() string { return "temp_token" }
func (s *TempTokenStep) Order() int   { return OrderTempToken }

func (s *TempTokenStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *TempTokenStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	accountID, username, err := flowContext.Services.TempTokens.ParseTempToken(flowContext.Attempt.TempToken)
	if err != nil {
		slog.Info("temp token rejected", "err", err)
		return &StepResult{Error: &FlowError{
			Type:    "invalid_temp_token",
			Message: "Authentication failed",
		}}, nil
	}

	flowContext.Result.Account = login.Account{ID: accountID, Username: username}
	return &StepResult{Continue: true}, nil
}

// TwoFactorGateStep decides, after the primary credential passed,
// whether the login finishes now, needs a one-time code, or needs the
// account to enroll first.
type TwoFactorGateStep struct {
	// requireTwoFactor makes enrollment mandatory: accounts without a
	// confirmed secret are sent to setup instead of logging in.
	requireTwoFactor bool
}

func NewTwoFactorGateStep(requireTwoFactor bool) *TwoFactorGateStep {
	return &TwoFactorGateStep{requireTwoFactor: requireTwoFactor}
}

func (s *TwoFactorGateStep) Name() string { return "two_factor_gate" }
func (s *TwoFactorGateStep) Order() int   { return OrderTwoFactorGate }

func (s *TwoFactorGateStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *TwoFactorGateStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account := flowContext.Result.Account

	enabled, err := flowContext.Services.TwoFactor.IsEnabled(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check two-factor state for account %s: %w", account.ID, err)
	}
	flowContext.TwoFactorEnabled = enabled

	if enabled {
		// A code is still outstanding. If this attempt doesn't carry
		// one, hand out a temp token and signal the boundary.
		if flowContext.Attempt.OTP == "" {
			tempToken, err := flowContext.Services.TempTokens.GenerateTempToken(account.ID, account.Username)
			if err != nil {
				return nil, fmt.Errorf("failed to generate temp token: %w", err)
			}
			flowContext.Result.Status = StatusSecondFactorRequired
			flowContext.Result.Signal = SignalRedirectToLogin
			flowContext.Result.TempToken = tempToken
			return &StepResult{EarlyReturn: true}, nil
		}
		return &StepResult{Continue: true}, nil
	}

	if s.requireTwoFactor {
		slog.Info("two-factor setup required", "account_id", account.ID)
		flowContext.Result.Status = StatusSetupRequired
		flowContext.Result.Signal = SignalRedirectToSetup
		return &StepResult{EarlyReturn: true}, nil
	}

	return &StepResult{Continue: true}, nil
}

// OtpStep checks the submitted one-time code for accounts with
// two-factor enabled.
type OtpStep struct{}

func NewOtpStep() *OtpStep { return &OtpStep{} }

func (s *OtpStep) Name() string { return "otp" }
func (s *OtpStep) Order() int   { return OrderOtp }

func (s *OtpStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return !flowContext.TwoFactorEnabled
}

func (s *OtpStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	account := flowContext.Result.Account

	err := flowContext.Services.TwoFactor.VerifyLoginCode(ctx, account.ID, flowContext.Attempt.OTP)
	if err != nil {
		if errors.Is(err, twofa.ErrInvalidCode) || errors.Is(err, twofa.ErrNotEnrolled) {
			slog.Info("one-time code rejected", "account_id", account.ID)
			return &StepResult{Error: &FlowError{
				Type:    "invalid_otp",
				Message: "Authentication failed",
			}}, nil
		}
		return nil, fmt.Errorf("failed to verify one-time code for account %s: %w", account.ID, err)
	}

	return &StepResult{Continue: true}, nil
}

// FinalizeStep marks the attempt fully authenticated. It only runs
// when every prior step passed.
type FinalizeStep struct{}

func NewFinalizeStep() *FinalizeStep { return &FinalizeStep{} }

func (s *FinalizeStep) Name() string { return "finalize" }
func (s *FinalizeStep) Order() int   { return OrderFinalize }

func (s *FinalizeStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *FinalizeStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	flowContext.Result.Status = StatusAuthenticated
	flowContext.Result.Signal = SignalNone
	flowContext.Result.TempToken = ""
	return &StepResult{Continue: true}, nil
}
