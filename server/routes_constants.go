package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Pages
	RouteLanding = "/"
	RouteLogin   = "/login"

	// Third-party sign-in
	RouteProviderBegin    = "/auth/{provider}"
	RouteProviderCallback = "/auth/{provider}/callback"

	// API Routes
	RouteAPIPrefix        = "/api"
	RouteAPILoginForm     = "/api/auth/login/form"
	RouteAPILogin         = "/api/auth/login"
	RouteAPILogout        = "/api/auth/logout"
	RouteAPISession       = "/api/session"
	RouteAPISessionStream = "/api/session/stream"
	RouteAPIProfile       = "/api/profile"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"

	// Static Asset Routes (patterns)
	RouteStatic = "/static/*"
)

// ProviderCallbackURL is the redirect URL registered with a third-party provider.
func ProviderCallbackURL(baseURL, provider string) string {
	return baseURL + "/auth/" + provider + "/callback"
}
