// Package login drives the console's sign-in screen: credential and third-party
// submission, validation, error messages and the navigation that follows.
package login

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	autherrors "github.com/jrsteele09/wastekonnect-admin/internal/errors"
	"github.com/jrsteele09/wastekonnect-admin/internal/utils"
	"github.com/jrsteele09/wastekonnect-admin/login/handshakerepo"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLandingRoute = "/"
	DefaultLoginRoute   = "/login"
	DefaultConfirmWait  = 5 * time.Second

	secretLength = 32
)

type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Path is one of the two submission paths sharing the state machine.
type Path string

const (
	PathCredentials Path = "credentials"
	PathProvider    Path = "provider"
)

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Navigator performs route transitions. Calls are fire-and-forget.
type Navigator interface {
	RedirectTo(route string)
	NavigateTo(route string)
}

// Notifier shows a transient message to the user. Calls are fire-and-forget.
type Notifier interface {
	Notify(kind NoticeKind, message string)
}

// UI is the screen a flow reports to.
type UI interface {
	Navigator
	Notifier
}

// Authenticator is the part of the identity provider the flow submits to.
type Authenticator interface {
	SignInWithCredentials(ctx context.Context, email, password string) (*identity.Identity, error)
	ProviderAuthURL(d identity.Descriptor, hs identity.Handshake) (string, error)
	SignInWithProvider(ctx context.Context, d identity.Descriptor, grant identity.Grant) (*identity.Identity, error)
	SignOut(ctx context.Context) error
}

// SessionWaiter lets the flow wait until the session store reflects a sign-in.
type SessionWaiter interface {
	Await(ctx context.Context, pred func(session.Session) bool) (session.Session, error)
}

// Metrics receives attempt outcomes.
type Metrics interface {
	LoginAttempt(path Path, result Result, code identity.ErrorCode)
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(Path, Result, identity.ErrorCode) {}

// Form is the credential form. The password is never serialised.
type Form struct {
	Email           string `json:"email"`
	Password        string `json:"-"`
	EmailInvalid    bool   `json:"email_invalid"`
	PasswordInvalid bool   `json:"password_invalid"`
}

type Result string

const (
	ResultInvalid Result = "invalid" // validation stopped the attempt
	ResultBusy    Result = "busy"    // the path is already submitting
	ResultPending Result = "pending" // a third-party handshake was opened
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// Outcome is the result of one attempt.
type Outcome struct {
	Path     Path               `json:"path"`
	Result   Result             `json:"result"`
	Identity *identity.Identity `json:"identity,omitempty"`
	Code     identity.ErrorCode `json:"code,omitempty"`
	Message  string             `json:"message,omitempty"`
	Navigate string             `json:"navigate,omitempty"` // Route navigated to on success
}

// Callback is what the third-party provider sends back.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

type Option func(*Flow)

func WithLandingRoute(route string) Option {
	return func(f *Flow) {
		f.landingRoute = route
	}
}

func WithLoginRoute(route string) Option {
	return func(f *Flow) {
		f.loginRoute = route
	}
}

// WithConfirmWait bounds the wait for the session store to reflect a sign-in.
func WithConfirmWait(d time.Duration) Option {
	return func(f *Flow) {
		f.confirmWait = d
	}
}

// WithHandshakeTTL sets how long an unanswered third-party sign-in keeps its path busy.
func WithHandshakeTTL(d time.Duration) Option {
	return func(f *Flow) {
		f.handshakeTTL = d
	}
}

// WithOwner names the browser the flow serves. Handshakes the flow starts carry
// the owner and are only completed by a flow with the same owner.
func WithOwner(owner string) Option {
	return func(f *Flow) {
		f.owner = owner
	}
}

func WithHandshakeRepo(repo handshakerepo.Repo) Option {
	return func(f *Flow) {
		f.handshakes = repo
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(f *Flow) {
		f.nowTime = nowFunc
	}
}

func WithMetrics(m Metrics) Option {
	return func(f *Flow) {
		if m != nil {
			f.metrics = m
		}
	}
}

// pendingProvider is the in-flight third-party attempt.
type pendingProvider struct {
	state      string
	authURL    string
	since      time.Time
	exchanging bool // the callback was taken and the code is being exchanged
}

// Flow is the login screen's state. Each path has its own busy state so a
// second submit on a path that is submitting is a no-op.
type Flow struct {
	auth       Authenticator
	sessions   SessionWaiter
	handshakes handshakerepo.Repo
	owner      string

	landingRoute string
	loginRoute   string
	confirmWait  time.Duration
	handshakeTTL time.Duration
	nowTime      func() time.Time
	metrics      Metrics

	mu       sync.Mutex
	form     Form
	states   map[Path]State
	provider *pendingProvider
}

func New(auth Authenticator, sessions SessionWaiter, opts ...Option) *Flow {
	f := &Flow{
		auth:         auth,
		sessions:     sessions,
		landingRoute: DefaultLandingRoute,
		loginRoute:   DefaultLoginRoute,
		confirmWait:  DefaultConfirmWait,
		handshakeTTL: handshakerepo.DefaultTTL,
		nowTime:      time.Now,
		metrics:      nopMetrics{},
		states: map[Path]State{
			PathCredentials: StateIdle,
			PathProvider:    StateIdle,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.handshakes == nil {
		f.handshakes = handshakerepo.NewInMemoryRepo(f.handshakeTTL, handshakerepo.WithNowTime(f.nowTime))
	}
	return f
}

// SetEmail edits the email field and clears its validation error.
func (f *Flow) SetEmail(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Email = email
	f.form.EmailInvalid = false
}

// SetPassword edits the password field and clears its validation error.
func (f *Flow) SetPassword(password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Password = password
	f.form.PasswordInvalid = false
}

// Form returns a copy of the credential form.
func (f *Flow) Form() Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

// State returns the state of a path.
func (f *Flow) State(path Path) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireProviderLocked()
	return f.states[path]
}

// Busy reports whether a path is submitting.
func (f *Flow) Busy(path Path) bool {
	return f.State(path) == StateSubmitting
}

// SubmitCredentials validates the form and signs in with it.
func (f *Flow) SubmitCredentials(ctx context.Context, ui UI) Outcome {
	f.mu.Lock()
	if f.states[PathCredentials] == StateSubmitting {
		f.mu.Unlock()
		return f.record(Outcome{Path: PathCredentials, Result: ResultBusy})
	}

	f.states[PathCredentials] = StateValidating
	f.form.EmailInvalid = f.form.Email == ""
	f.form.PasswordInvalid = f.form.Password == ""
	if f.form.EmailInvalid || f.form.PasswordInvalid {
		f.states[PathCredentials] = StateIdle
		f.mu.Unlock()
		return f.record(Outcome{Path: PathCredentials, Result: ResultInvalid})
	}

	f.states[PathCredentials] = StateSubmitting
	email, password := f.form.Email, f.form.Password
	f.mu.Unlock()

	id, err := f.auth.SignInWithCredentials(ctx, email, password)
	if err != nil {
		code := identity.CodeOf(err)
		log.Info().Str("code", string(code)).Msg("credential sign-in failed")
		return f.fail(PathCredentials, ui, code, MessageFor(code))
	}
	return f.succeed(ctx, PathCredentials, ui, id, MessageSignedIn, f.landingRoute)
}

// BeginProviderSignIn starts a third-party sign-in and returns the URL that
// opens the provider's handshake. While an earlier handshake is still
// pending it returns that handshake's URL with ResultBusy. The URL is empty
// while the earlier handshake is still being stored.
func (f *Flow) BeginProviderSignIn(ui UI, d identity.Descriptor, returnURL string) (string, Outcome) {
	hs := identity.Handshake{
		State:        utils.RandomString(secretLength),
		Nonce:        utils.RandomString(secretLength),
		CodeVerifier: utils.RandomString(secretLength),
	}

	f.mu.Lock()
	f.expireProviderLocked()
	if f.states[PathProvider] == StateSubmitting {
		authURL := f.provider.authURL
		f.mu.Unlock()
		return authURL, f.record(Outcome{Path: PathProvider, Result: ResultBusy})
	}
	f.states[PathProvider] = StateSubmitting
	f.provider = &pendingProvider{state: hs.State, since: f.nowTime()}
	f.mu.Unlock()

	authURL, err := f.auth.ProviderAuthURL(d, hs)
	if err == nil {
		err = f.handshakes.Upsert(hs.State, &handshakerepo.PendingHandshake{
			Provider:  d,
			Handshake: hs,
			ReturnURL: f.localRoute(returnURL),
			Owner:     f.owner,
			CreatedAt: f.nowTime(),
		})
	}
	if err != nil {
		log.Err(err).Str("provider", d.Name).Msg("failed to start provider sign-in")
		code := identity.CodeOf(err)
		if code == "" {
			code = identity.CodeInternal
		}
		return "", f.fail(PathProvider, ui, code, ProviderFailureMessage(d, identity.MessageOf(err)))
	}

	f.mu.Lock()
	if f.provider == nil || f.provider.state != hs.State {
		// The attempt was expired or completed while the handshake was stored.
		f.mu.Unlock()
		_ = f.handshakes.Delete(hs.State)
		return "", f.record(Outcome{Path: PathProvider, Result: ResultBusy})
	}
	f.provider.authURL = authURL
	f.mu.Unlock()

	return authURL, f.record(Outcome{Path: PathProvider, Result: ResultPending, Navigate: authURL})
}

// CompleteProviderSignIn finishes the handshake identified by cb.State.
func (f *Flow) CompleteProviderSignIn(ctx context.Context, ui UI, cb Callback) Outcome {
	pending, err := f.takeHandshake(cb.State)
	if err != nil {
		log.Info().Err(err).Msg("provider callback without a pending handshake")
		f.releaseProvider(cb.State)
		ui.Notify(NoticeError, MessageHandshakeInvalid)
		return f.record(Outcome{Path: PathProvider, Result: ResultFailed, Code: identity.CodeHandshakeInvalid, Message: MessageHandshakeInvalid})
	}
	d := pending.Provider

	f.mu.Lock()
	f.states[PathProvider] = StateSubmitting
	f.provider = &pendingProvider{state: cb.State, since: f.nowTime(), exchanging: true}
	f.mu.Unlock()

	if cb.Error != "" {
		msg := cb.Error
		if cb.ErrorDescription != "" {
			msg = cb.ErrorDescription
		}
		return f.fail(PathProvider, ui, identity.CodeProviderRejected, ProviderFailureMessage(d, msg))
	}
	if cb.Code == "" {
		return f.fail(PathProvider, ui, identity.CodeHandshakeInvalid, ProviderFailureMessage(d, "missing authorization code"))
	}

	id, err := f.auth.SignInWithProvider(ctx, d, identity.Grant{Code: cb.Code, Handshake: pending.Handshake})
	if err != nil {
		code := identity.CodeOf(err)
		if code == "" {
			code = identity.CodeProviderRejected
		}
		log.Info().Str("code", string(code)).Str("provider", d.Name).Msg("provider sign-in failed")
		return f.fail(PathProvider, ui, code, ProviderFailureMessage(d, identity.MessageOf(err)))
	}

	route := pending.ReturnURL
	if route == "" {
		route = f.landingRoute
	}
	return f.succeed(ctx, PathProvider, ui, id, ProviderSuccessMessage(d), route)
}

// SignOut ends the session and sends the user to the login route.
func (f *Flow) SignOut(ctx context.Context, ui UI) error {
	if err := f.auth.SignOut(ctx); err != nil {
		ui.Notify(NoticeError, "Logout failed: "+identity.MessageOf(err))
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.confirmWait)
	defer cancel()
	if _, err := f.sessions.Await(waitCtx, func(s session.Session) bool { return s.Ready() && s.Identity == nil }); err != nil {
		log.Warn().Err(err).Msg("sign-out not yet reflected by the session store")
	}

	f.mu.Lock()
	f.form = Form{}
	f.mu.Unlock()

	ui.RedirectTo(f.loginRoute)
	return nil
}

// succeed waits for the session store to show id before announcing success and
// navigating, so the gate never sees the old session on the landing route.
func (f *Flow) succeed(ctx context.Context, path Path, ui UI, id *identity.Identity, message, route string) Outcome {
	waitCtx, cancel := context.WithTimeout(ctx, f.confirmWait)
	defer cancel()
	_, err := f.sessions.Await(waitCtx, func(s session.Session) bool {
		return s.SignedIn() && s.Identity.ID == id.ID
	})
	if err != nil {
		log.Warn().Err(err).Str("path", string(path)).Msg("sign-in not confirmed by the session store")
		return f.fail(path, ui, identity.CodeSessionUnconfirmed, MessageSessionUnconfirmed)
	}

	f.mu.Lock()
	f.states[path] = StateSuccess
	if path == PathCredentials {
		f.form.Password = ""
	} else {
		f.provider = nil
	}
	f.mu.Unlock()

	ui.Notify(NoticeSuccess, message)
	ui.NavigateTo(route)
	return f.record(Outcome{Path: path, Result: ResultSuccess, Identity: id.Clone(), Message: message, Navigate: route})
}

// fail reports the failure and returns the path to Idle.
func (f *Flow) fail(path Path, ui UI, code identity.ErrorCode, message string) Outcome {
	f.mu.Lock()
	f.states[path] = StateIdle
	if path == PathProvider {
		f.provider = nil
	}
	f.mu.Unlock()

	ui.Notify(NoticeError, message)
	return f.record(Outcome{Path: path, Result: ResultFailed, Code: code, Message: message})
}

func (f *Flow) record(o Outcome) Outcome {
	f.metrics.LoginAttempt(o.Path, o.Result, o.Code)
	return o
}

// takeHandshake consumes the handshake for state. A second callback with the
// same state finds nothing.
func (f *Flow) takeHandshake(state string) (*handshakerepo.PendingHandshake, error) {
	pending, err := f.handshakes.Take(state)
	if err != nil {
		return nil, err
	}
	if pending.Owner != f.owner {
		return nil, autherrors.ErrHandshakeNotFound
	}
	if f.handshakeTTL > 0 && f.nowTime().Sub(pending.CreatedAt) > f.handshakeTTL {
		return nil, autherrors.ErrHandshakeExpired
	}
	return pending, nil
}

// releaseProvider frees the provider path when state is its pending handshake
// and no callback is exchanging it.
func (f *Flow) releaseProvider(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider != nil && f.provider.state == state && !f.provider.exchanging {
		f.provider = nil
		f.states[PathProvider] = StateIdle
	}
}

// expireProviderLocked frees the provider path when its handshake outlived the TTL.
func (f *Flow) expireProviderLocked() {
	if f.states[PathProvider] != StateSubmitting || f.provider == nil || f.handshakeTTL <= 0 {
		return
	}
	if f.nowTime().Sub(f.provider.since) > f.handshakeTTL {
		_ = f.handshakes.Delete(f.provider.state)
		f.provider = nil
		f.states[PathProvider] = StateIdle
	}
}

// localRoute keeps return URLs on this site.
func (f *Flow) localRoute(route string) string {
	if !strings.HasPrefix(route, "/") || strings.HasPrefix(route, "//") || strings.HasPrefix(route, "/\\") {
		return ""
	}
	return route
}
