// Package redirect turns step-up signals raised during authentication
// into HTTP 303 redirects at the request boundary.
package redirect

import (
	"fmt"
	"net/url"
	"strings"
)

// RouteValues names a login or setup route by its three coordinates.
// All three must be set; validation happens lazily, only when a
// redirect is actually issued, so an application that never triggers
// step-up can run with an empty route configuration.
type RouteValues struct {
	Package    string
	Controller string
	Action     string
}

// Validate checks that all three route coordinates are present.
func (v RouteValues) Validate() error {
	var missing []string
	if v.Package == "" {
		missing = append(missing, "package")
	}
	if v.Controller == "" {
		missing = append(missing, "controller")
	}
	if v.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return fmt.Errorf("route values incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Path renders the route as a request path.
func (v RouteValues) Path() string {
	return "/" + url.PathEscape(v.Package) + "/" + url.PathEscape(v.Controller) + "/" + url.PathEscape(v.Action)
}

// Routes holds the two step-up destinations.
type Routes struct {
	Login RouteValues
	Setup RouteValues
}
