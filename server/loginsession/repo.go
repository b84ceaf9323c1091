// Package loginsession keeps the per-browser sessions behind the console's
// session cookie.
package loginsession

import (
	"errors"
	"time"
)

var (
	ErrEmptySessionID  = errors.New("session id cannot be empty")
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one browser's view of the console. IdentityID is set once that
// browser completes a sign-in.
type Session struct {
	ID         string
	IdentityID string
	Email      string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// SignedIn reports whether the browser completed a sign-in.
func (s Session) SignedIn() bool {
	return s.IdentityID != ""
}

type Repo interface {
	Upsert(sessionID string, session Session) error
	Get(sessionID string) (Session, error)
	Delete(sessionID string) error
	// DeleteSignedIn removes every signed-in session and returns their ids.
	DeleteSignedIn() ([]string, error)
}
