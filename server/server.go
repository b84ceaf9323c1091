package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/wastekonnect-admin/gate"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
	"github.com/jrsteele09/wastekonnect-admin/identity/provider"
	"github.com/jrsteele09/wastekonnect-admin/internal/config"
	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/jrsteele09/wastekonnect-admin/login/handshakerepo"
	"github.com/jrsteele09/wastekonnect-admin/metrics"
	"github.com/jrsteele09/wastekonnect-admin/server/loginsession"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators the server is wired to.
type Deps struct {
	Store      *session.Store
	Provider   *provider.Service
	Accounts   directory.Repo
	Handshakes handshakerepo.Repo
	Sessions   loginsession.Repo   // Per-browser login sessions, in memory when nil
	Gatherer   prometheus.Gatherer // Serves /metrics when set
	Metrics    *metrics.Collector
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	router   *chi.Mux
	api      *chi.Mux
	routes   []string
	config   config.Config
	cors     *cors.Cors
	store    *session.Store
	gate     *gate.Gate
	browsers *browsers
	unwatch  func()
	provider *provider.Service
	accounts directory.Repo
	gatherer prometheus.Gatherer
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Provider == nil || deps.Accounts == nil {
		return nil, fmt.Errorf("[Server New] store, provider and accounts are required")
	}

	gateOpts := []gate.Option{
		gate.WithLoginRoute(RouteLogin),
		gate.WithPendingWait(cfg.GetPendingWait()),
	}
	flowOpts := []login.Option{
		login.WithLandingRoute(RouteLanding),
		login.WithLoginRoute(RouteLogin),
		login.WithConfirmWait(cfg.GetConfirmWait()),
		login.WithHandshakeTTL(cfg.GetHandshakeTTL()),
	}
	if deps.Handshakes != nil {
		flowOpts = append(flowOpts, login.WithHandshakeRepo(deps.Handshakes))
	}
	if deps.Metrics != nil {
		gateOpts = append(gateOpts, gate.WithMetrics(deps.Metrics))
		flowOpts = append(flowOpts, login.WithMetrics(deps.Metrics))
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = loginsession.NewInMemoryRepo()
	}
	b := newBrowsers(sessions, cfg.GetBrowserSessionTTL(), func(owner string) *login.Flow {
		opts := make([]login.Option, 0, len(flowOpts)+1)
		opts = append(append(opts, flowOpts...), login.WithOwner(owner))
		return login.New(deps.Provider, deps.Store, opts...)
	})
	gateOpts = append(gateOpts, gate.WithBinding(b))

	s := &Server{
		env:      cfg.GetEnv(),
		router:   chi.NewRouter(),
		api:      chi.NewRouter(),
		config:   cfg,
		store:    deps.Store,
		gate:     gate.New(deps.Store, gateOpts...),
		browsers: b,
		provider: deps.Provider,
		accounts: deps.Accounts,
		gatherer: deps.Gatherer,
	}
	s.cors = cors.New(cors.Options{
		AllowedOrigins:   cfg.GetAllowedOrigins().List(),
		AllowedMethods:   splitList(cfg.GetAllowedMethods()),
		AllowedHeaders:   splitList(cfg.GetAllowedHeaders()),
		AllowCredentials: true,
		MaxAge:           86400,
	})
	s.api.Use(s.cors.Handler)
	s.router.Mount(RouteAPIPrefix, s.api)

	// Bootstrap: ensure the console has an administrator who can sign in
	if _, err := s.InitialiseSystem(context.Background()); err != nil {
		return nil, fmt.Errorf("[Server New] Failed to initialise the system: %w", err)
	}

	s.unwatch = deps.Store.Watch(func(snap session.Session) {
		if snap.Ready() && !snap.SignedIn() {
			s.browsers.signedOut()
		}
	})

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

// Close stops following the session store.
func (s *Server) Close() {
	s.unwatch()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Gate returns the access gate guarding protected routes.
func (s *Server) Gate() *gate.Gate {
	return s.gate
}

func (s *Server) RegisterRouteHandler(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	if strings.HasPrefix(pattern, RouteAPIPrefix+"/") {
		s.api.Method(method, strings.TrimPrefix(pattern, RouteAPIPrefix), handler)
		return
	}
	s.router.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		logRoute(parts[0], parts[1])
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colouredMethod(method), path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
