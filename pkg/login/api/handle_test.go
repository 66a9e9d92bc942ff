package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackidm/stepauth/pkg/authflow"
	"github.com/stackidm/stepauth/pkg/login"
	"github.com/stackidm/stepauth/pkg/redirect"
	"github.com/stackidm/stepauth/pkg/secrets"
	"github.com/stackidm/stepauth/pkg/token"
	"github.com/stackidm/stepauth/pkg/totp"
	"github.com/stackidm/stepauth/pkg/twofa"
)

// recordingThrottle captures Reset calls from the handler.
type recordingThrottle struct {
	resets []string
}

func (t *recordingThrottle) Reset(key string) {
	t.resets = append(t.resets, key)
}

type loginHarness struct {
	now      time.Time
	engine   *totp.Engine
	twoFA    *twofa.Service
	auth     *jwtauth.JWTAuth
	throttle *recordingThrottle
	handler  http.Handler
}

func newLoginHarness(t *testing.T, requireTwoFactor bool) *loginHarness {
	t.Helper()

	h := &loginHarness{
		now:  time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		auth: jwtauth.New("HS256", []byte("login-test-signing-key"), nil),
	}
	h.engine = totp.NewEngine(totp.WithClock(func() time.Time { return h.now }))
	h.twoFA = twofa.NewService(secrets.NewInMemSecretRepository(), h.engine)

	store := login.NewInMemAccountStore()
	require.NoError(t, store.AddAccount("acct-1", "alice", "correct horse"))

	deps := &authflow.Dependencies{
		Credentials: login.NewBcryptVerifier(store),
		TwoFactor:   h.twoFA,
		TempTokens:  token.NewService("login-test-signing-key", token.DefaultTempTokenTTL),
	}
	h.throttle = &recordingThrottle{}
	handle := NewHandle(
		authflow.BuildPasswordLoginFlow(requireTwoFactor, deps),
		authflow.BuildOtpResumeFlow(requireTwoFactor, deps),
		h.auth,
		WithThrottle(h.throttle),
	)

	routes := redirect.Routes{
		Login: redirect.RouteValues{Package: "stepauth", Controller: "login", Action: "otp"},
		Setup: redirect.RouteValues{Package: "stepauth", Controller: "twofa", Action: "setup"},
	}
	h.handler = redirect.NewMiddleware(routes).Handler(LoginRouter(handle))
	return h
}

func (h *loginHarness) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *loginHarness) enroll(t *testing.T) string {
	t.Helper()
	enrollment, err := h.twoFA.StartEnrollment(context.Background(), "acct-1", "alice")
	require.NoError(t, err)
	code, err := h.engine.CodeAt(enrollment.Secret, h.engine.CurrentStep())
	require.NoError(t, err)
	require.NoError(t, h.twoFA.ConfirmEnrollment(context.Background(), "acct-1", code))
	h.now = h.now.Add(time.Duration(totp.DefaultPeriod) * time.Second)
	return enrollment.Secret
}

func (h *loginHarness) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.engine.CodeAt(secret, h.engine.CurrentStep())
	require.NoError(t, err)
	return code
}

func TestPostLogin_Success(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/", `{"username":"alice","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, authflow.StatusAuthenticated, resp.Status)
	require.NotEmpty(t, resp.AccessToken)

	parsed, err := h.auth.Decode(resp.AccessToken)
	require.NoError(t, err)
	sub, _ := parsed.Get("sub")
	assert.Equal(t, "acct-1", sub)
}

func TestPostLogin_WrongPassword(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestPostLogin_UnknownUserSameShape(t *testing.T) {
	h := newLoginHarness(t, false)

	wrongPassword := h.post(t, "/", `{"username":"alice","password":"nope"}`)
	unknownUser := h.post(t, "/", `{"username":"mallory","password":"nope"}`)

	assert.Equal(t, wrongPassword.Code, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestPostLogin_SecondFactorRedirect(t *testing.T) {
	h := newLoginHarness(t, false)
	h.enroll(t)

	rec := h.post(t, "/", `{"username":"alice","password":"correct horse"}`)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/stepauth/login/otp", location.Path)

	// The discarded body was the only other carrier of the temp token,
	// so the redirect must hand it to the client itself.
	tempToken := location.Query().Get("temp_token")
	require.NotEmpty(t, tempToken)

	tokens := token.NewService("login-test-signing-key", token.DefaultTempTokenTTL)
	accountID, username, err := tokens.ParseTempToken(tempToken)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)
	assert.Equal(t, "alice", username)
}

func TestPostLogin_SetupRedirect(t *testing.T) {
	h := newLoginHarness(t, true)

	rec := h.post(t, "/", `{"username":"alice","password":"correct horse"}`)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/stepauth/twofa/setup", rec.Header().Get("Location"))
}

func TestPostLogin_CodeInSameRequest(t *testing.T) {
	h := newLoginHarness(t, false)
	secret := h.enroll(t)

	body := `{"username":"alice","password":"correct horse","otp":"` + h.currentCode(t, secret) + `"}`
	rec := h.post(t, "/", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, authflow.StatusAuthenticated, resp.Status)
}

func TestPostLoginOtp_FinishesLogin(t *testing.T) {
	h := newLoginHarness(t, false)
	secret := h.enroll(t)

	// First leg: password only, through the full middleware chain. The
	// temp token comes back on the redirect Location.
	rec := h.post(t, "/", `{"username":"alice","password":"correct horse"}`)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	tempToken := location.Query().Get("temp_token")
	require.NotEmpty(t, tempToken)

	// Second leg: temp token plus the current code.
	body := `{"temp_token":"` + tempToken + `","otp":"` + h.currentCode(t, secret) + `"}`
	rec = h.post(t, "/otp", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, authflow.StatusAuthenticated, resp.Status)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestPostLoginOtp_MalformedCode(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/otp", `{"temp_token":"whatever","otp":"12ab56"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostLogin_SuccessReleasesThrottle(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/", `{"username":"alice","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, h.throttle.resets, 1)
}

func TestPostLogin_FailureKeepsThrottle(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/", `{"username":"alice","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, h.throttle.resets)
}

func TestPostLogin_MissingFields(t *testing.T) {
	h := newLoginHarness(t, false)

	rec := h.post(t, "/", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
