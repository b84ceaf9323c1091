package login_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/jrsteele09/wastekonnect-admin/login/handshakerepo"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/stretchr/testify/require"
)

type notice struct {
	kind    login.NoticeKind
	message string
}

type fakeUI struct {
	mu         sync.Mutex
	notices    []notice
	navigated  []string
	redirected []string
}

func (u *fakeUI) Notify(kind login.NoticeKind, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notices = append(u.notices, notice{kind, message})
}

func (u *fakeUI) NavigateTo(route string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.navigated = append(u.navigated, route)
}

func (u *fakeUI) RedirectTo(route string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirected = append(u.redirected, route)
}

func (u *fakeUI) snapshot() ([]notice, []string, []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]notice(nil), u.notices...), append([]string(nil), u.navigated...), append([]string(nil), u.redirected...)
}

// fakeAuth stands in for the identity provider. Successful sign-ins are
// pushed to the store the way the bus would, unless silent is set.
type fakeAuth struct {
	store *session.Store

	mu          sync.Mutex
	calls       int
	err         error
	silent      bool
	block       chan struct{}
	lastGrant   identity.Grant
	user        *identity.Identity
	signOutErrs error
}

func (a *fakeAuth) SignInWithCredentials(_ context.Context, email, _ string) (*identity.Identity, error) {
	return a.signIn(identity.ProviderPassword, email)
}

func (a *fakeAuth) ProviderAuthURL(d identity.Descriptor, hs identity.Handshake) (string, error) {
	if d.Name != identity.Google.Name {
		return "", identity.NewError(identity.CodeUnknownProvider, "provider not configured")
	}
	return "https://accounts.test/auth?state=" + url.QueryEscape(hs.State), nil
}

func (a *fakeAuth) SignInWithProvider(_ context.Context, _ identity.Descriptor, grant identity.Grant) (*identity.Identity, error) {
	a.mu.Lock()
	a.lastGrant = grant
	a.mu.Unlock()
	return a.signIn(identity.ProviderGoogle, "ada@wastekonnect.test")
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	err := a.signOutErrs
	a.mu.Unlock()
	if err != nil {
		return err
	}
	go a.store.OnSessionChanged(nil)
	return nil
}

func (a *fakeAuth) signIn(provider, email string) (*identity.Identity, error) {
	a.mu.Lock()
	a.calls++
	err, silent, block := a.err, a.silent, a.block
	a.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	id := &identity.Identity{ID: "acc-1", Email: email, DisplayName: "Ada", Provider: provider}
	if !silent {
		go a.store.OnSessionChanged(id.Clone())
	}
	return id, nil
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type testFixture struct {
	store *session.Store
	auth  *fakeAuth
	ui    *fakeUI
	flow  *login.Flow
	repo  *handshakerepo.InMemoryRepo
	now   time.Time
	mu    sync.Mutex
}

func (f *testFixture) nowTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func setupTestFixture(t *testing.T, opts ...login.Option) *testFixture {
	t.Helper()
	f := &testFixture{
		store: session.NewStore(),
		ui:    &fakeUI{},
		now:   time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	f.auth = &fakeAuth{store: f.store}
	f.store.OnSessionChanged(nil)
	f.repo = handshakerepo.NewInMemoryRepo(handshakerepo.DefaultTTL, handshakerepo.WithNowTime(f.nowTime))

	opts = append([]login.Option{
		login.WithNowTime(f.nowTime),
		login.WithHandshakeRepo(f.repo),
		login.WithConfirmWait(time.Second),
	}, opts...)
	f.flow = login.New(f.auth, f.store, opts...)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func TestSubmitCredentials_Validation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	out := f.flow.SubmitCredentials(ctx, f.ui)
	require.Equal(t, login.ResultInvalid, out.Result)
	form := f.flow.Form()
	require.True(t, form.EmailInvalid)
	require.True(t, form.PasswordInvalid)
	require.Zero(t, f.auth.callCount())

	f.flow.SetEmail("ada@wastekonnect.test")
	require.False(t, f.flow.Form().EmailInvalid)
	require.True(t, f.flow.Form().PasswordInvalid)

	out = f.flow.SubmitCredentials(ctx, f.ui)
	require.Equal(t, login.ResultInvalid, out.Result)
	require.False(t, f.flow.Form().EmailInvalid)
	require.True(t, f.flow.Form().PasswordInvalid)
	require.Zero(t, f.auth.callCount())
	require.Equal(t, login.StateIdle, f.flow.State(login.PathCredentials))

	notices, navigated, _ := f.ui.snapshot()
	require.Empty(t, notices)
	require.Empty(t, navigated)
}

func TestSubmitCredentials_BlankEmailIsSubmitted(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.err = identity.NewError(identity.CodeInvalidEmail, "bad email")
	f.flow.SetEmail("   ")
	f.flow.SetPassword("pw")

	out := f.flow.SubmitCredentials(context.Background(), f.ui)
	require.Equal(t, login.ResultFailed, out.Result)
	require.Equal(t, "Invalid email format. Please check your email.", out.Message)
	require.False(t, f.flow.Form().EmailInvalid)
	require.Equal(t, 1, f.auth.callCount())
}

func TestSubmitCredentials_Success(t *testing.T) {
	f := setupTestFixture(t)
	f.flow.SetEmail("ada@wastekonnect.test")
	f.flow.SetPassword("pw")

	out := f.flow.SubmitCredentials(context.Background(), f.ui)
	require.Equal(t, login.ResultSuccess, out.Result)
	require.Equal(t, "acc-1", out.Identity.ID)
	require.Equal(t, login.DefaultLandingRoute, out.Navigate)
	require.Equal(t, login.StateSuccess, f.flow.State(login.PathCredentials))
	require.Empty(t, f.flow.Form().Password)

	// Navigation happens only once the store shows the new identity.
	current := f.store.Current()
	require.True(t, current.SignedIn())
	require.Equal(t, "acc-1", current.Identity.ID)

	notices, navigated, _ := f.ui.snapshot()
	require.Equal(t, []notice{{login.NoticeSuccess, login.MessageSignedIn}}, notices)
	require.Equal(t, []string{"/"}, navigated)
}

func TestSubmitCredentials_ErrorMessages(t *testing.T) {
	tests := []struct {
		code identity.ErrorCode
		want string
	}{
		{identity.CodeUserNotFound, "No user found with this email."},
		{identity.CodeWrongPassword, "Incorrect password. Please try again."},
		{identity.CodeInvalidEmail, "Invalid email format. Please check your email."},
		{identity.CodeTooManyRequests, "Too many attempts. Please try again later."},
		{identity.CodeUserDisabled, "Login failed. Please check your credentials."},
		{"auth/something-new", "Login failed. Please check your credentials."},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			f := setupTestFixture(t)
			f.auth.err = identity.NewError(tt.code, "provider text")
			f.flow.SetEmail("ada@wastekonnect.test")
			f.flow.SetPassword("pw")

			out := f.flow.SubmitCredentials(context.Background(), f.ui)
			require.Equal(t, login.ResultFailed, out.Result)
			require.Equal(t, tt.code, out.Code)
			require.Equal(t, tt.want, out.Message)
			require.Equal(t, login.StateIdle, f.flow.State(login.PathCredentials))

			notices, navigated, _ := f.ui.snapshot()
			require.Equal(t, []notice{{login.NoticeError, tt.want}}, notices)
			require.Empty(t, navigated)
		})
	}
}

func TestSubmitCredentials_BusyIsNoOp(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.block = make(chan struct{})
	f.flow.SetEmail("ada@wastekonnect.test")
	f.flow.SetPassword("pw")

	done := make(chan login.Outcome)
	go func() { done <- f.flow.SubmitCredentials(context.Background(), f.ui) }()

	require.Eventually(t, func() bool {
		return f.flow.Busy(login.PathCredentials) && f.auth.callCount() == 1
	}, time.Second, time.Millisecond)

	out := f.flow.SubmitCredentials(context.Background(), f.ui)
	require.Equal(t, login.ResultBusy, out.Result)
	require.Equal(t, 1, f.auth.callCount())

	// The provider path is independent of the credentials path.
	require.Equal(t, login.StateIdle, f.flow.State(login.PathProvider))

	close(f.auth.block)
	require.Equal(t, login.ResultSuccess, (<-done).Result)
}

func TestSubmitCredentials_UnconfirmedSessionDoesNotNavigate(t *testing.T) {
	f := setupTestFixture(t, login.WithConfirmWait(20*time.Millisecond))
	f.auth.silent = true
	f.flow.SetEmail("ada@wastekonnect.test")
	f.flow.SetPassword("pw")

	out := f.flow.SubmitCredentials(context.Background(), f.ui)
	require.Equal(t, login.ResultFailed, out.Result)
	require.Equal(t, identity.CodeSessionUnconfirmed, out.Code)

	notices, navigated, _ := f.ui.snapshot()
	require.Equal(t, []notice{{login.NoticeError, login.MessageSessionUnconfirmed}}, notices)
	require.Empty(t, navigated)
}

func beginGoogle(t *testing.T, f *testFixture, returnURL string) string {
	t.Helper()
	authURL, out := f.flow.BeginProviderSignIn(f.ui, identity.Google, returnURL)
	require.Equal(t, login.ResultPending, out.Result)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestProviderSignIn_Success(t *testing.T) {
	f := setupTestFixture(t)
	state := beginGoogle(t, f, "/reports")
	require.True(t, f.flow.Busy(login.PathProvider))

	out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: state, Code: "auth-code"})
	require.Equal(t, login.ResultSuccess, out.Result)
	require.Equal(t, "/reports", out.Navigate)
	require.Equal(t, "auth-code", f.auth.lastGrant.Code)
	require.Equal(t, state, f.auth.lastGrant.Handshake.State)
	require.NotEmpty(t, f.auth.lastGrant.Handshake.Nonce)
	require.NotEmpty(t, f.auth.lastGrant.Handshake.CodeVerifier)
	require.Zero(t, f.repo.Len())

	notices, navigated, _ := f.ui.snapshot()
	require.Equal(t, []notice{{login.NoticeSuccess, "Logged in with Google successfully!"}}, notices)
	require.Equal(t, []string{"/reports"}, navigated)

	// A replayed callback finds no handshake.
	out = f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: state, Code: "auth-code"})
	require.Equal(t, identity.CodeHandshakeInvalid, out.Code)
}

func TestProviderSignIn_ExternalReturnURLIgnored(t *testing.T) {
	f := setupTestFixture(t)
	state := beginGoogle(t, f, "//evil.test/steal")

	out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: state, Code: "auth-code"})
	require.Equal(t, login.ResultSuccess, out.Result)
	require.Equal(t, login.DefaultLandingRoute, out.Navigate)
}

func TestProviderSignIn_BusyReturnsSameHandshake(t *testing.T) {
	f := setupTestFixture(t)
	first, out := f.flow.BeginProviderSignIn(f.ui, identity.Google, "")
	require.Equal(t, login.ResultPending, out.Result)

	second, out := f.flow.BeginProviderSignIn(f.ui, identity.Google, "")
	require.Equal(t, login.ResultBusy, out.Result)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.repo.Len())

	// Credentials stay usable while the provider path is busy.
	require.Equal(t, login.StateIdle, f.flow.State(login.PathCredentials))

	f.advance(handshakerepo.DefaultTTL + time.Second)
	require.Equal(t, login.StateIdle, f.flow.State(login.PathProvider))
	third, out := f.flow.BeginProviderSignIn(f.ui, identity.Google, "")
	require.Equal(t, login.ResultPending, out.Result)
	require.NotEqual(t, first, third)
}

// slowRepo puts a delay in front of Take and can hold Upsert, the way a
// network hop to a shared store does.
type slowRepo struct {
	handshakerepo.Repo
	takeDelay time.Duration
	upsertGate chan struct{}
}

func (r *slowRepo) Upsert(state string, pending *handshakerepo.PendingHandshake) error {
	if r.upsertGate != nil {
		<-r.upsertGate
	}
	return r.Repo.Upsert(state, pending)
}

func (r *slowRepo) Take(state string) (*handshakerepo.PendingHandshake, error) {
	time.Sleep(r.takeDelay)
	return r.Repo.Take(state)
}

func TestProviderSignIn_ConcurrentCallbacksExchangeOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.flow = login.New(f.auth, f.store,
		login.WithNowTime(f.nowTime),
		login.WithHandshakeRepo(&slowRepo{Repo: f.repo, takeDelay: 20 * time.Millisecond}),
		login.WithConfirmWait(time.Second),
	)
	state := beginGoogle(t, f, "")

	results := make(chan login.Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := f.flow.CompleteProviderSignIn(context.Background(), &fakeUI{}, login.Callback{State: state, Code: "auth-code"})
			results <- out.Result
		}()
	}
	wg.Wait()
	close(results)

	var got []login.Result
	for r := range results {
		got = append(got, r)
	}
	require.ElementsMatch(t, []login.Result{login.ResultSuccess, login.ResultFailed}, got)
	require.Equal(t, 1, f.auth.callCount())
}

func TestProviderSignIn_OtherBrowserCannotComplete(t *testing.T) {
	f := setupTestFixture(t, login.WithOwner("browser-a"))
	state := beginGoogle(t, f, "")

	other := login.New(f.auth, f.store,
		login.WithNowTime(f.nowTime),
		login.WithHandshakeRepo(f.repo),
		login.WithOwner("browser-b"),
	)
	out := other.CompleteProviderSignIn(context.Background(), &fakeUI{}, login.Callback{State: state, Code: "auth-code"})
	require.Equal(t, identity.CodeHandshakeInvalid, out.Code)
	require.Zero(t, f.auth.callCount())
	require.False(t, f.store.Current().SignedIn())
}

func TestProviderSignIn_FormUsableWhileHandshakeIsStored(t *testing.T) {
	f := setupTestFixture(t)
	repo := &slowRepo{Repo: f.repo, upsertGate: make(chan struct{})}
	f.flow = login.New(f.auth, f.store,
		login.WithNowTime(f.nowTime),
		login.WithHandshakeRepo(repo),
	)

	done := make(chan string)
	go func() {
		authURL, _ := f.flow.BeginProviderSignIn(f.ui, identity.Google, "")
		done <- authURL
	}()

	require.Eventually(t, func() bool { return f.flow.Busy(login.PathProvider) }, time.Second, time.Millisecond)
	f.flow.SetEmail("ada@wastekonnect.test")
	require.Equal(t, "ada@wastekonnect.test", f.flow.Form().Email)

	authURL, out := f.flow.BeginProviderSignIn(f.ui, identity.Google, "")
	require.Equal(t, login.ResultBusy, out.Result)
	require.Empty(t, authURL)

	close(repo.upsertGate)
	require.NotEmpty(t, <-done)
	require.Equal(t, 1, f.repo.Len())
}

func TestProviderSignIn_Failures(t *testing.T) {
	t.Run("provider reported an error", func(t *testing.T) {
		f := setupTestFixture(t)
		state := beginGoogle(t, f, "")
		out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{
			State: state, Error: "access_denied", ErrorDescription: "Popup closed by user",
		})
		require.Equal(t, login.ResultFailed, out.Result)
		require.Equal(t, identity.CodeProviderRejected, out.Code)
		require.Equal(t, "Google login failed: Popup closed by user", out.Message)
		require.Equal(t, login.StateIdle, f.flow.State(login.PathProvider))
		require.Zero(t, f.auth.callCount())
	})

	t.Run("exchange rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		f.auth.err = identity.NewError(identity.CodeProviderRejected, "Token has been revoked")
		state := beginGoogle(t, f, "")
		out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: state, Code: "c"})
		require.Equal(t, "Google login failed: Token has been revoked", out.Message)

		notices, navigated, _ := f.ui.snapshot()
		require.Equal(t, []notice{{login.NoticeError, out.Message}}, notices)
		require.Empty(t, navigated)
	})

	t.Run("unknown state", func(t *testing.T) {
		f := setupTestFixture(t)
		out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: "nope", Code: "c"})
		require.Equal(t, identity.CodeHandshakeInvalid, out.Code)
		require.Equal(t, login.MessageHandshakeInvalid, out.Message)
	})

	t.Run("expired handshake", func(t *testing.T) {
		f := setupTestFixture(t)
		state := beginGoogle(t, f, "")
		f.advance(handshakerepo.DefaultTTL + time.Second)
		out := f.flow.CompleteProviderSignIn(context.Background(), f.ui, login.Callback{State: state, Code: "c"})
		require.Equal(t, identity.CodeHandshakeInvalid, out.Code)
		require.Zero(t, f.auth.callCount())
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := setupTestFixture(t)
		authURL, out := f.flow.BeginProviderSignIn(f.ui, identity.Descriptor{Name: "github", DisplayName: "GitHub"}, "")
		require.Empty(t, authURL)
		require.Equal(t, identity.CodeUnknownProvider, out.Code)
		require.Equal(t, "GitHub login failed: provider not configured", out.Message)
		require.Equal(t, login.StateIdle, f.flow.State(login.PathProvider))
	})
}

func TestSignOut(t *testing.T) {
	f := setupTestFixture(t)
	f.flow.SetEmail("ada@wastekonnect.test")
	f.flow.SetPassword("pw")
	require.Equal(t, login.ResultSuccess, f.flow.SubmitCredentials(context.Background(), f.ui).Result)

	require.NoError(t, f.flow.SignOut(context.Background(), f.ui))
	require.False(t, f.store.Current().SignedIn())
	require.Empty(t, f.flow.Form().Email)

	_, _, redirected := f.ui.snapshot()
	require.Equal(t, []string{login.DefaultLoginRoute}, redirected)
}

func TestSignOut_Failure(t *testing.T) {
	f := setupTestFixture(t)
	f.auth.signOutErrs = identity.NewError(identity.CodeInternal, "bus unavailable")

	require.Error(t, f.flow.SignOut(context.Background(), f.ui))
	notices, _, redirected := f.ui.snapshot()
	require.Equal(t, []notice{{login.NoticeError, "Logout failed: bus unavailable"}}, notices)
	require.Empty(t, redirected)
}

func TestMessages(t *testing.T) {
	require.Equal(t, "Google login failed: boom", login.ProviderFailureMessage(identity.Google, "boom"))
	require.Equal(t, "okta login failed: boom", login.ProviderFailureMessage(identity.Descriptor{Name: "okta"}, "boom"))
	require.Equal(t, "Logged in with Google successfully!", login.ProviderSuccessMessage(identity.Google))
}
