// Package authflow runs authentication attempts through an ordered
// step pipeline: primary credential, two-factor gate, one-time code,
// finalize. Each attempt ends in exactly one terminal status, and
// step-up outcomes carry a signal for the request boundary to act on.
package authflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/stackidm/stepauth/pkg/login"
	"github.com/stackidm/stepauth/pkg/token"
	"github.com/stackidm/stepauth/pkg/twofa"
)

// Status is the terminal outcome of an authentication attempt.
type Status string

const (
	// StatusAuthenticated means both factors (where required) passed.
	StatusAuthenticated Status = "authenticated"

	// StatusRejected covers unknown accounts, wrong passwords and wrong
	// codes alike; no finer-grained reason is exposed.
	StatusRejected Status = "rejected"

	// StatusSecondFactorRequired means the primary credential passed and
	// a one-time code must be submitted to finish the login.
	StatusSecondFactorRequired Status = "second_factor_required"

	// StatusSetupRequired means policy mandates 2FA and the account has
	// not enrolled yet; the login stays un-finalized.
	StatusSetupRequired Status = "setup_required"
)

// Signal tells the surrounding request pipeline to redirect the user
// into a step-up flow. It survives exactly one request/response cycle
// and is never persisted.
type Signal string

const (
	SignalNone            Signal = ""
	SignalRedirectToLogin Signal = "redirect_to_login"
	SignalRedirectToSetup Signal = "redirect_to_setup"
)

// Attempt is the immutable input of one authentication attempt. Steps
// never mutate it; all derived state lives in the flow context.
type Attempt struct {
	Username  string
	Password  string
	OTP       string
	TempToken string
}

// FlowError describes why a flow failed, with an internal type for
// logging and a user-safe message.
type FlowError struct {
	Type    string
	Message string
}

// Result is the outcome of executing an authentication flow.
type Result struct {
	Status    Status
	Signal    Signal
	Account   login.Account
	TempToken string
	Failure   *FlowError
}

// Step is a single stage of the authentication state machine.
type Step interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)
}

// FlowContext carries state between steps.
type FlowContext struct {
	Attempt Attempt
	Result  *Result

	// TwoFactorEnabled is set by the gate step for later steps.
	TwoFactorEnabled bool

	Services *Dependencies
}

// StepResult controls flow progression after a step executes.
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool

	// Error indicates the attempt failed; the executor finalizes the
	// result as rejected.
	Error *FlowError
}

// Dependencies contains the collaborators the steps need.
type Dependencies struct {
	Credentials login.CredentialVerifier
	TwoFactor   *twofa.Service
	TempTokens  *token.Service
}

// Registry manages and orders flow steps.
type Registry struct {
	steps []Step
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make([]Step, 0)}
}

// AddStep adds a step to the registry.
func (r *Registry) AddStep(step Step) *Registry {
	r.steps = append(r.steps, step)
	return r
}

// OrderedSteps returns the steps sorted by their order.
func (r *Registry) OrderedSteps() []Step {
	ordered := make([]Step, len(r.steps))
	copy(ordered, r.steps)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Order() < ordered[j].Order()
	})
	return ordered
}

// Executor runs an authentication flow to completion.
type Executor struct {
	registry *Registry
	services *Dependencies
}

// NewExecutor creates an executor over the given steps and services.
func NewExecutor(registry *Registry, services *Dependencies) *Executor {
	return &Executor{registry: registry, services: services}
}

// Execute runs the flow for one attempt and returns its result. A flow
// that fails at any step yields StatusRejected with SignalNone.
func (e *Executor) Execute(ctx context.Context, attempt Attempt) Result {
	flowContext := &FlowContext{
		Attempt:  attempt,
		Result:   &Result{Status: StatusRejected, Signal: SignalNone},
		Services: e.services,
	}

	for _, step := range e.registry.OrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			flowContext.Result.Status = StatusRejected
			flowContext.Result.Failure = &FlowError{
				Type:    "step_execution_error",
				Message: fmt.Sprintf("Step '%s' failed: %v", step.Name(), err),
			}
			return *flowContext.Result
		}

		if stepResult.Error != nil {
			flowContext.Result.Status = StatusRejected
			flowContext.Result.Signal = SignalNone
			flowContext.Result.Failure = stepResult.Error
			return *flowContext.Result
		}

		if stepResult.EarlyReturn {
			return *flowContext.Result
		}

		if !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result
}

// Builder provides a fluent interface for assembling flows.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a new flow builder.
func NewBuilder() *Builder {
	return &Builder{registry: NewRegistry()}
}

// AddStep adds a step to the flow.
func (b *Builder) AddStep(step Step) *Builder {
	b.registry.AddStep(step)
	return b
}

// Build creates an executor with the configured steps.
func (b *Builder) Build(services *Dependencies) *Executor {
	return NewExecutor(b.registry, services)
}

// Predefined step orders.
const (
	OrderCredential    = 100
	OrderTempToken     = 100
	OrderTwoFactorGate = 200
	OrderOtp           = 300
	OrderFinalize      = 400
)
