package redirect

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/stackidm/stepauth/pkg/authflow"
)

type contextKey string

const signalKey contextKey = "stepup_signal"

// signalHolder is placed in the request context by the middleware so
// handlers deeper in the chain can raise a signal that the middleware
// observes after they return.
type signalHolder struct {
	signal    authflow.Signal
	tempToken string
}

// Record raises a step-up signal for the current request. It is a no-op
// when the middleware is not installed or the signal is SignalNone; a
// later call overwrites an earlier one.
func Record(ctx context.Context, signal authflow.Signal) {
	holder, ok := ctx.Value(signalKey).(*signalHolder)
	if !ok || signal == authflow.SignalNone {
		return
	}
	holder.signal = signal
}

// RecordTempToken attaches the temp token of a suspended login to the
// current request. The middleware carries it on the redirect Location
// as a temp_token query parameter; since the handler's own response
// body is discarded on redirect, this is the only channel that gets the
// token to the client.
func RecordTempToken(ctx context.Context, token string) {
	holder, ok := ctx.Value(signalKey).(*signalHolder)
	if !ok || token == "" {
		return
	}
	holder.tempToken = token
}

// Middleware watches for step-up signals raised by handlers and
// replaces the response with a 303 redirect to the configured login or
// setup route. The handler's own response is buffered and discarded
// when a signal fired, so partial output never reaches the client.
type Middleware struct {
	routes Routes
}

// NewMiddleware creates the step-up redirect middleware.
func NewMiddleware(routes Routes) *Middleware {
	return &Middleware{routes: routes}
}

// Handler wraps next with signal observation.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holder := &signalHolder{}
		ctx := context.WithValue(r.Context(), signalKey, holder)

		buffer := &bufferedResponse{header: make(http.Header)}
		next.ServeHTTP(buffer, r.WithContext(ctx))

		if holder.signal == authflow.SignalNone {
			buffer.copyTo(w)
			return
		}

		route := m.routeFor(holder.signal)
		if err := route.Validate(); err != nil {
			slog.Error("Cannot redirect for step-up signal", "signal", holder.signal, "err", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		location := route.Path()
		if holder.tempToken != "" {
			location += "?temp_token=" + url.QueryEscape(holder.tempToken)
		}

		slog.Info("Redirecting for step-up", "signal", holder.signal, "location", route.Path())
		http.Redirect(w, r, location, http.StatusSeeOther)
	})
}

func (m *Middleware) routeFor(signal authflow.Signal) RouteValues {
	if signal == authflow.SignalRedirectToSetup {
		return m.routes.Setup
	}
	return m.routes.Login
}

// bufferedResponse captures a handler's response so it can be replayed
// or discarded once the signal outcome is known.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) copyTo(w http.ResponseWriter) {
	for k, vv := range b.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if b.status != 0 {
		w.WriteHeader(b.status)
	}
	w.Write(b.body.Bytes())
}
