package authflow

// BuildPasswordLoginFlow assembles the standard username/password flow:
// credential check, two-factor gate, one-time code check, finalize.
func BuildPasswordLoginFlow(requireTwoFactor bool, services *Dependencies) *Executor {
	return NewBuilder().
		AddStep(NewCredentialStep()).
		AddStep(NewTwoFactorGateStep(requireTwoFactor)).
		AddStep(NewOtpStep()).
		AddStep(NewFinalizeStep()).
		Build(services)
}

// BuildOtpResumeFlow assembles the flow that finishes a login started
// earlier: a temp token stands in for the password, then the one-time
// code is checked.
func BuildOtpResumeFlow(requireTwoFactor bool, services *Dependencies) *Executor {
	return NewBuilder().
		AddStep(NewTempTokenStep()).
		AddStep(NewTwoFactorGateStep(requireTwoFactor)).
		AddStep(NewOtpStep()).
		AddStep(NewFinalizeStep()).
		Build(services)
}
