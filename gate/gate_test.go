package gate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/gate"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		session session.Session
		want    gate.Decision
	}{
		{"initializing", session.Session{Status: session.StatusInitializing}, gate.Pending},
		{"initializing ignores identity", session.Session{Status: session.StatusInitializing, Identity: &identity.Identity{ID: "u1"}}, gate.Pending},
		{"ready signed out", session.Session{Status: session.StatusReady}, gate.Redirect},
		{"ready signed in", session.Session{Status: session.StatusReady, Identity: &identity.Identity{ID: "u1"}}, gate.Allow},
		{"degraded keeps last decision", session.Session{Status: session.StatusReady, Identity: &identity.Identity{ID: "u1"}, Degraded: true}, gate.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, gate.Decide(tt.session))
		})
	}
}

func TestEvaluate(t *testing.T) {
	store := session.NewStore()
	g := gate.New(store)

	var rendered, redirected int
	protected := func() { rendered++ }
	redirect := func() { redirected++ }

	t.Run("fresh process start is pending", func(t *testing.T) {
		require.Equal(t, gate.Pending, g.Evaluate(protected, redirect))
		require.Zero(t, rendered)
		require.Zero(t, redirected)
	})

	t.Run("signed out redirects", func(t *testing.T) {
		store.OnSessionChanged(nil)
		require.Equal(t, gate.Redirect, g.Evaluate(protected, redirect))
		require.Zero(t, rendered)
		require.Equal(t, 1, redirected)
	})

	t.Run("signed in renders", func(t *testing.T) {
		store.OnSessionChanged(&identity.Identity{ID: "u1"})
		require.Equal(t, gate.Allow, g.Evaluate(protected, redirect))
		require.Equal(t, 1, rendered)
		require.Equal(t, 1, redirected)
	})
}

func TestWatch_SignOutElsewhereRedirects(t *testing.T) {
	store := session.NewStore()
	g := gate.New(store)

	var mu sync.Mutex
	var decisions []gate.Decision
	cancel := g.Watch(func(d gate.Decision, _ session.Session) {
		mu.Lock()
		defer mu.Unlock()
		decisions = append(decisions, d)
	})
	defer cancel()

	store.OnSessionChanged(&identity.Identity{ID: "u1"})
	store.OnSessionChanged(nil)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []gate.Decision{gate.Pending, gate.Allow, gate.Redirect}, decisions)
}

func protectedHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := gate.IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte("hello " + id.ID))
	})
}

func TestRequire(t *testing.T) {
	t.Run("allow passes the identity on", func(t *testing.T) {
		store := session.NewStore()
		store.OnSessionChanged(&identity.Identity{ID: "u1"})
		h := gate.New(store).Require(protectedHandler(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "hello u1", rec.Body.String())
	})

	t.Run("redirect variants", func(t *testing.T) {
		store := session.NewStore()
		store.OnSessionChanged(nil)
		h := gate.New(store, gate.WithLoginRoute("/login")).Require(protectedHandler(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/login", rec.Header().Get("Location"))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("HX-Request", "true")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "/login", rec.Header().Get("HX-Redirect"))

		req = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.Header.Set("Accept", "text/html;q=0.9, application/json")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "/login", body["redirect"])
	})

	t.Run("pending renders nothing after the wait", func(t *testing.T) {
		store := session.NewStore()
		h := gate.New(store, gate.WithPendingWait(10*time.Millisecond)).Require(protectedHandler(t))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "1", rec.Header().Get("Retry-After"))
		require.Empty(t, rec.Header().Get("Location"))
		require.Empty(t, rec.Body.String())
	})

	t.Run("pending resolves when the first notification lands", func(t *testing.T) {
		store := session.NewStore()
		h := gate.New(store, gate.WithPendingWait(2*time.Second)).Require(protectedHandler(t))

		go func() {
			time.Sleep(10 * time.Millisecond)
			store.OnSessionChanged(&identity.Identity{ID: "u1"})
		}()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("middleware form", func(t *testing.T) {
		store := session.NewStore()
		store.OnSessionChanged(nil)
		mw := gate.New(store).Middleware()

		rec := httptest.NewRecorder()
		mw(protectedHandler(t).ServeHTTP)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusSeeOther, rec.Code)
	})
}

// cookieBinding recognises requests carrying the cookie issued to id.
type cookieBinding struct {
	id    string
	value string
}

func (b cookieBinding) Bound(r *http.Request, id *identity.Identity) bool {
	c, err := r.Cookie("browser")
	return err == nil && c.Value == b.value && id != nil && id.ID == b.id
}

func TestRequire_Binding(t *testing.T) {
	store := session.NewStore()
	g := gate.New(store, gate.WithBinding(cookieBinding{id: "u1", value: "signed-in-browser"}))
	h := g.Require(protectedHandler(t))

	signedIn := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "browser", Value: "signed-in-browser"})
		return req
	}

	store.OnSessionChanged(&identity.Identity{ID: "u1"})

	t.Run("the browser that signed in is allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedIn())
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "hello u1", rec.Body.String())
	})

	t.Run("another browser is redirected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, gate.DefaultLoginRoute, rec.Header().Get("Location"))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "browser", Value: "guessed"})
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusSeeOther, rec.Code)
	})

	t.Run("a different identity does not match the cookie", func(t *testing.T) {
		store.OnSessionChanged(&identity.Identity{ID: "u2"})
		require.Equal(t, gate.Redirect, g.DecideRequest(signedIn(), store.Current()))
	})

	t.Run("pending is not affected by the binding", func(t *testing.T) {
		require.Equal(t, gate.Pending, g.DecideRequest(signedIn(), session.Session{}))
	})
}

func TestIdentityFromContext(t *testing.T) {
	_, ok := gate.IdentityFromContext(context.Background())
	require.False(t, ok)

	id := &identity.Identity{ID: "u1"}
	ctx := gate.WithIdentity(context.Background(), id)
	got, ok := gate.IdentityFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)
}
