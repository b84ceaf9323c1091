package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/gate"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/internal/utils"
	"github.com/jrsteele09/wastekonnect-admin/login"
	"github.com/jrsteele09/wastekonnect-admin/server/loginsession"
	"github.com/rs/zerolog/log"
)

const (
	// loggedInSessionID is the name of the cookie that identifies a browser to the console
	loggedInSessionID = "loggedInSessionId"

	sessionIDLength = 32
)

// browsers keeps one login session and one login form per browser cookie. Only
// the browser that completed a sign-in is bound to the signed-in identity.
type browsers struct {
	repo    loginsession.Repo
	ttl     time.Duration
	newFlow func(owner string) *login.Flow
	nowTime func() time.Time

	mu    sync.Mutex
	flows map[string]*login.Flow
}

var _ gate.Binding = (*browsers)(nil)

func newBrowsers(repo loginsession.Repo, ttl time.Duration, newFlow func(owner string) *login.Flow) *browsers {
	return &browsers{
		repo:    repo,
		ttl:     ttl,
		newFlow: newFlow,
		nowTime: time.Now,
		flows:   make(map[string]*login.Flow),
	}
}

// current is the session named by the request's cookie.
func (b *browsers) current(r *http.Request) (loginsession.Session, bool) {
	c, err := r.Cookie(loggedInSessionID)
	if err != nil || c.Value == "" {
		return loginsession.Session{}, false
	}
	sess, err := b.repo.Get(c.Value)
	if err != nil {
		if !errors.Is(err, loginsession.ErrSessionNotFound) {
			log.Err(err).Msg("Failed to read login session")
		}
		return loginsession.Session{}, false
	}
	return sess, true
}

// ensure returns the browser's session, starting an anonymous one if it has none.
func (b *browsers) ensure(w http.ResponseWriter, r *http.Request) loginsession.Session {
	if sess, ok := b.current(r); ok {
		return sess
	}
	return b.start(w, r, loginsession.Session{})
}

func (b *browsers) start(w http.ResponseWriter, r *http.Request, sess loginsession.Session) loginsession.Session {
	now := b.nowTime()
	sess.ID = utils.RandomString(sessionIDLength)
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(b.ttl)
	if err := b.repo.Upsert(sess.ID, sess); err != nil {
		log.Err(err).Msg("Failed to store login session")
	}
	setLoginSessionCookie(w, r, sess.ID, int(b.ttl.Seconds()))
	return sess
}

// flowFor is the login form belonging to sess. Forms of sessions that expired
// are dropped when a new one is created.
func (b *browsers) flowFor(sess loginsession.Session) *login.Flow {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f, ok := b.flows[sess.ID]; ok {
		return f
	}
	for id := range b.flows {
		if _, err := b.repo.Get(id); err != nil {
			delete(b.flows, id)
		}
	}
	f := b.newFlow(sess.ID)
	b.flows[sess.ID] = f
	return f
}

// bind moves the browser onto a fresh session bound to id. The previous
// session id stops working.
func (b *browsers) bind(w http.ResponseWriter, r *http.Request, prev loginsession.Session, id *identity.Identity) {
	if id == nil {
		return
	}
	b.start(w, r, loginsession.Session{IdentityID: id.ID, Email: id.Email})
	b.forget(prev.ID)
}

func (b *browsers) forget(sessionID string) {
	if sessionID == "" {
		return
	}
	if err := b.repo.Delete(sessionID); err != nil {
		log.Err(err).Msg("Failed to delete login session")
	}
	b.mu.Lock()
	delete(b.flows, sessionID)
	b.mu.Unlock()
}

// end forgets the browser's session and clears its cookie.
func (b *browsers) end(w http.ResponseWriter, r *http.Request) {
	if sess, ok := b.current(r); ok {
		b.forget(sess.ID)
	}
	setLoginSessionCookie(w, r, "", -1)
}

// signedOut unbinds every browser once the console session has signed out.
func (b *browsers) signedOut() {
	ids, err := b.repo.DeleteSignedIn()
	if err != nil {
		log.Err(err).Msg("Failed to clear signed-in login sessions")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.flows, id)
	}
}

// Bound reports whether r comes from the browser that signed id in.
func (b *browsers) Bound(r *http.Request, id *identity.Identity) bool {
	if id == nil {
		return false
	}
	sess, ok := b.current(r)
	return ok && sess.SignedIn() && sess.IdentityID == id.ID
}

func setLoginSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     loggedInSessionID,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
