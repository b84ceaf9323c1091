// Package gate decides, for every protected navigation, whether to render the
// protected content, redirect to the login route or hold off while the session
// is still initializing.
package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/session"
)

const (
	DefaultLoginRoute  = "/login"
	DefaultPendingWait = 3 * time.Second

	retryAfterSeconds = 1
)

type Decision int

const (
	// Pending renders neither the protected content nor the redirect.
	Pending Decision = iota
	// Redirect sends the user to the login route.
	Redirect
	// Allow renders the protected content.
	Allow
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Decide is the gate's decision for a session snapshot.
func Decide(s session.Session) Decision {
	switch {
	case s.Status != session.StatusReady:
		return Pending
	case s.Identity == nil:
		return Redirect
	default:
		return Allow
	}
}

// Source is the session state the gate reads. *session.Store implements it.
type Source interface {
	Current() session.Session
	Watch(fn func(session.Session)) (cancel func())
	Await(ctx context.Context, pred func(session.Session) bool) (session.Session, error)
}

// Metrics receives the gate's decisions.
type Metrics interface {
	GateDecision(d Decision)
}

type nopMetrics struct{}

func (nopMetrics) GateDecision(Decision) {}

type Option func(*Gate)

func WithLoginRoute(route string) Option {
	return func(g *Gate) {
		g.loginRoute = route
	}
}

// WithPendingWait bounds how long a request is held while the session initializes.
func WithPendingWait(d time.Duration) Option {
	return func(g *Gate) {
		g.pendingWait = d
	}
}

func WithMetrics(m Metrics) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// Binding ties the signed-in session to the requests allowed to use it, such
// as the browser that completed the sign-in.
type Binding interface {
	Bound(r *http.Request, id *identity.Identity) bool
}

// WithBinding makes Require redirect requests the binding does not recognise,
// even while the session is signed in.
func WithBinding(b Binding) Option {
	return func(g *Gate) {
		g.binding = b
	}
}

type Gate struct {
	source      Source
	binding     Binding
	loginRoute  string
	pendingWait time.Duration
	metrics     Metrics
}

func New(source Source, opts ...Option) *Gate {
	g := &Gate{
		source:      source,
		loginRoute:  DefaultLoginRoute,
		pendingWait: DefaultPendingWait,
		metrics:     nopMetrics{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) LoginRoute() string {
	return g.loginRoute
}

// Decide evaluates the current session.
func (g *Gate) Decide() (Decision, session.Session) {
	s := g.source.Current()
	return Decide(s), s
}

// DecideRequest is the decision for s as seen by r. Allow becomes Redirect when
// r is not bound to the signed-in identity.
func (g *Gate) DecideRequest(r *http.Request, s session.Session) Decision {
	d := Decide(s)
	if d == Allow && g.binding != nil && !g.binding.Bound(r, s.Identity) {
		return Redirect
	}
	return d
}

// Evaluate runs protected on Allow and redirect on Redirect. On Pending neither runs.
func (g *Gate) Evaluate(protected, redirect func()) Decision {
	d, _ := g.Decide()
	g.metrics.GateDecision(d)
	switch d {
	case Allow:
		protected()
	case Redirect:
		redirect()
	}
	return d
}

// Watch calls fn with the decision for the current session and again on every
// session change, in order.
func (g *Gate) Watch(fn func(Decision, session.Session)) (cancel func()) {
	return g.source.Watch(func(s session.Session) {
		fn(Decide(s), s)
	})
}

// Require guards next. While the session initializes the request is held for up
// to the pending wait and then answered 503 with Retry-After.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := g.source.Current()
		if !s.Ready() && g.pendingWait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), g.pendingWait)
			s, _ = g.source.Await(ctx, session.Session.Ready)
			cancel()
		}
		d := g.DecideRequest(r, s)
		g.metrics.GateDecision(d)

		switch d {
		case Allow:
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), s.Identity)))
		case Redirect:
			g.redirectToLogin(w, r)
		default:
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
}

// Middleware is Require in the func(http.HandlerFunc) http.HandlerFunc form.
func (g *Gate) Middleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return g.Require(next).ServeHTTP
	}
}

func (g *Gate) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", g.loginRoute)
		w.WriteHeader(http.StatusNoContent)
	case wantsJSON(r):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"redirect": g.loginRoute})
	default:
		http.Redirect(w, r, g.loginRoute, http.StatusSeeOther)
	}
}
