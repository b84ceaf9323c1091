package server

import (
	"net/http"

	"github.com/jrsteele09/wastekonnect-admin/metrics"
	"github.com/rs/zerolog/log"
)

func (s *Server) initRoutes() {
	protected := s.HTMLMiddleWare(s.gate.Middleware())

	// Protected pages and data
	s.RegisterRouteFunc(http.MethodGet, RouteLanding, ChainMiddleware(s.LandingHandler(), protected...))
	s.RegisterRouteFunc(http.MethodGet, RouteAPIProfile, ChainMiddleware(s.ProfileHandler(), s.APIMiddleware(s.gate.Middleware())...))

	// LOGIN
	s.RegisterRouteFunc(http.MethodGet, RouteLogin, ChainMiddleware(s.LoginPageHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAPILoginForm, ChainMiddleware(s.LoginFormHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPatch, RouteAPILoginForm, ChainMiddleware(s.LoginFormPatchHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAPILogin, ChainMiddleware(s.LoginSubmissionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAPILogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))

	// Third-party sign-in
	s.RegisterRouteFunc(http.MethodGet, RouteProviderBegin, ChainMiddleware(s.ProviderBeginHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc(http.MethodGet, RouteProviderCallback, ChainMiddleware(s.ProviderCallbackHandler(), s.HTMLMiddleWare()...))

	// Session
	s.RegisterRouteFunc(http.MethodGet, RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAPISessionStream, ChainMiddleware(s.SessionStreamHandler(), s.APIMiddleware()...))

	// Operations
	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler(http.MethodGet, RouteMetrics, metrics.Handler(s.gatherer))
	}

	s.RegisterRouteFunc(http.MethodGet, RouteStatic, ChainMiddleware(s.AssetHandler(), s.CacheMiddleware))
}

func logError(method, path, error string) {
	log.Warn().Msgf("[%-19s] %s %s", colouredMethod(method), path, colouredError(error))
}
