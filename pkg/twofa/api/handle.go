package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/stackidm/stepauth/pkg/twofa"
)

// TwoFaRouter returns the http.Handler for the 2FA self-management API.
// Every route requires an authenticated caller; the account identity is
// taken from the verified token, never from the request body.
func TwoFaRouter(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/setup", h.PostSetup)
	r.Post("/enable", h.PostEnable)
	r.Post("/disable", h.PostDisable)

	return r
}

type Handle struct {
	twoFaService *twofa.Service
	validate     *validator.Validate
}

// NewHandle creates a new Handle
func NewHandle(twoFaService *twofa.Service) *Handle {
	return &Handle{
		twoFaService: twoFaService,
		validate:     validator.New(),
	}
}

// SetupRequest optionally overrides the label shown in authenticator apps.
type SetupRequest struct {
	Label string `json:"label" validate:"omitempty,max=128"`
}

// CodeRequest carries a one-time code submission.
type CodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type StatusResponse struct {
	Status twofa.EnrollmentStatus `json:"status"`
}

type SetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type SuccessResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Current enrollment state
// (GET /status)
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	status, err := h.twoFaService.Status(r.Context(), accountID)
	if err != nil {
		slog.Error("Failed to get 2FA status", "accountID", accountID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to get 2fa status")
		return
	}

	render.JSON(w, r, StatusResponse{Status: status})
}

// Start (or resume) enrollment and hand out the provisioning URI
// (POST /setup)
func (h *Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	accountID, username, ok := h.identity(w, r)
	if !ok {
		return
	}

	data := SetupRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "unable to parse body")
		return
	}
	if err := h.validate.Struct(data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	label := data.Label
	if label == "" {
		label = username
	}

	enrollment, err := h.twoFaService.StartEnrollment(r.Context(), accountID, label)
	if err != nil {
		if errors.Is(err, twofa.ErrAlreadyEnabled) {
			h.renderError(w, r, http.StatusConflict, "2fa is already enabled")
			return
		}
		slog.Error("Failed to start 2FA enrollment", "accountID", accountID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to start 2fa enrollment")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, SetupResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
	})
}

// Confirm enrollment with a code from the authenticator
// (POST /enable)
func (h *Handle) PostEnable(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	code, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	err := h.twoFaService.ConfirmEnrollment(r.Context(), accountID, code)
	switch {
	case errors.Is(err, twofa.ErrInvalidCode):
		h.renderError(w, r, http.StatusUnauthorized, "invalid code")
	case errors.Is(err, twofa.ErrNoPendingEnrollment):
		h.renderError(w, r, http.StatusBadRequest, "no pending enrollment")
	case errors.Is(err, twofa.ErrAlreadyEnabled):
		h.renderError(w, r, http.StatusConflict, "2fa is already enabled")
	case err != nil:
		slog.Error("Failed to enable 2FA", "accountID", accountID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to enable 2fa")
	default:
		render.JSON(w, r, SuccessResponse{Result: "success"})
	}
}

// Disable 2FA; a current valid code is required as proof of possession
// (POST /disable)
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	code, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	err := h.twoFaService.Disable(r.Context(), accountID, code)
	switch {
	case errors.Is(err, twofa.ErrInvalidCode):
		h.renderError(w, r, http.StatusUnauthorized, "invalid code")
	case errors.Is(err, twofa.ErrNotEnrolled):
		h.renderError(w, r, http.StatusBadRequest, "2fa is not enabled")
	case err != nil:
		slog.Error("Failed to disable 2FA", "accountID", accountID, "err", err)
		h.renderError(w, r, http.StatusInternalServerError, "failed to disable 2fa")
	default:
		render.JSON(w, r, SuccessResponse{Result: "success"})
	}
}

func (h *Handle) decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	data := CodeRequest{}
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "unable to parse body")
		return "", false
	}
	if err := h.validate.Struct(data); err != nil {
		h.renderError(w, r, http.StatusBadRequest, "code must be six digits")
		return "", false
	}
	return data.Code, true
}

// identity extracts the caller's account from the verified JWT claims.
func (h *Handle) identity(w http.ResponseWriter, r *http.Request) (accountID, username string, ok bool) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		h.renderError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}

	accountID, _ = claims["sub"].(string)
	if accountID == "" {
		slog.Error("Token claims missing subject")
		h.renderError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	username, _ = claims["username"].(string)
	return accountID, username, true
}

func (h *Handle) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
