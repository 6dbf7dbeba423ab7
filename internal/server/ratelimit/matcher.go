package ratelimit

import (
	"strings"
)

// Route maps an HTTP route to the purpose whose quota it consumes.
type Route struct {
	Path    string // Path pattern (a trailing "/" enables prefix matching)
	Method  string
	Purpose Purpose
}

// DefaultRoutes returns the routes admitted by the HTTP middleware.
// Generation routes are not listed: the generation gateway admits those itself.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/programs/search", Method: "GET", Purpose: PurposeRead},
		{Path: "/feedback", Method: "POST", Purpose: PurposeRead},
		{Path: "/feedback/", Method: "GET", Purpose: PurposeRead},
		{Path: "/feedback/", Method: "POST", Purpose: PurposeRead},
	}
}

// MatchRoute returns the purpose for a request path and method.
// The boolean is false for unlimited routes and routes admitted elsewhere.
func MatchRoute(path string, method string, routes []Route) (Purpose, bool) {
	// Health and metrics endpoints are unlimited
	if method == "GET" && (path == "/health" || path == "/metrics") {
		return "", false
	}

	// Try exact match first
	for _, r := range routes {
		if r.Path == path && r.Method == method {
			return r.Purpose, true
		}
	}

	// Try prefix match (for paths ending with "/")
	for _, r := range routes {
		if r.Method == method && strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) {
			return r.Purpose, true
		}
	}

	return "", false
}
