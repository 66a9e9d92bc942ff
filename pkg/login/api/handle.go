package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/stackidm/stepauth/pkg/authflow"
	"github.com/stackidm/stepauth/pkg/ratelimit"
	"github.com/stackidm/stepauth/pkg/redirect"
)

const accessTokenExpiry = 15 * time.Minute

// LoginRouter returns the http.Handler for the login endpoints.
func LoginRouter(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.PostLogin)
	r.Post("/otp", h.PostLoginOtp)

	return r
}

// AttemptThrottle is the part of the login rate limiter the handler
// releases once an attempt fully authenticates.
type AttemptThrottle interface {
	Reset(key string)
}

type Handle struct {
	passwordFlow *authflow.Executor
	otpFlow      *authflow.Executor
	tokenAuth    *jwtauth.JWTAuth
	validate     *validator.Validate
	throttle     AttemptThrottle
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithThrottle wires the login throttle so a successful authentication
// restores the client's attempt budget.
func WithThrottle(throttle AttemptThrottle) HandleOption {
	return func(h *Handle) {
		h.throttle = throttle
	}
}

// NewHandle creates a new Handle over the two flow executors.
func NewHandle(passwordFlow, otpFlow *authflow.Executor, tokenAuth *jwtauth.JWTAuth, opts ...HandleOption) *Handle {
	h := &Handle{
		passwordFlow: passwordFlow,
		otpFlow:      otpFlow,
		tokenAuth:    tokenAuth,
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoginRequest is a password login submission. An OTP may ride along to
// finish a two-factor login in a single round trip.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp" validate:"omitempty,len=6,numeric"`
}

// LoginOtpRequest finishes a login started earlier, identified by the
// temp token handed out with the second-factor challenge.
type LoginOtpRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	OTP       string `json:"otp" validate:"required,len=6,numeric"`
}

type LoginResponse struct {
	Status      authflow.Status `json:"status"`
	AccessToken string          `json:"access_token,omitempty"`
	TempToken   string          `json:"temp_token,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Password login
// (POST /)
func (h *Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	data := LoginRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}
	if err := h.validate.Struct(data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid login request")
		return
	}

	result := h.passwordFlow.Execute(r.Context(), authflow.Attempt{
		Username: data.Username,
		Password: data.Password,
		OTP:      data.OTP,
	})
	h.respond(w, r, result)
}

// Finish a login with a one-time code
// (POST /otp)
func (h *Handle) PostLoginOtp(w http.ResponseWriter, r *http.Request) {
	data := LoginOtpRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}
	if err := h.validate.Struct(data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "invalid login request")
		return
	}

	result := h.otpFlow.Execute(r.Context(), authflow.Attempt{
		TempToken: data.TempToken,
		OTP:       data.OTP,
	})
	h.respond(w, r, result)
}

// respond maps a flow result onto the wire. Step-up signals are handed
// to the redirect middleware, which replaces whatever is rendered here
// with a 303; the temp token rides along so it survives the discarded
// body.
func (h *Handle) respond(w http.ResponseWriter, r *http.Request, result authflow.Result) {
	redirect.Record(r.Context(), result.Signal)
	redirect.RecordTempToken(r.Context(), result.TempToken)

	switch result.Status {
	case authflow.StatusAuthenticated:
		accessToken, err := h.issueAccessToken(result)
		if err != nil {
			slog.Error("Failed to issue access token", "accountID", result.Account.ID, "err", err)
			h.renderError(w, r, http.StatusInternalServerError, "failed to issue token")
			return
		}
		if h.throttle != nil {
			h.throttle.Reset(ratelimit.ClientIP(r))
		}
		render.JSON(w, r, LoginResponse{Status: result.Status, AccessToken: accessToken})

	case authflow.StatusSecondFactorRequired:
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, LoginResponse{Status: result.Status, TempToken: result.TempToken})

	case authflow.StatusSetupRequired:
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, LoginResponse{Status: result.Status})

	default:
		h.renderError(w, r, http.StatusUnauthorized, "authentication failed")
	}
}

func (h *Handle) issueAccessToken(result authflow.Result) (string, error) {
	now := time.Now()
	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"sub":      result.Account.ID,
		"username": result.Account.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(accessTokenExpiry).Unix(),
	})
	return tokenString, err
}

func (h *Handle) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
