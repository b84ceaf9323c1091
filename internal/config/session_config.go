package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	keyPendingWait  = "session.pending_wait"
	keyConfirmWait  = "session.confirm_wait"
	keyHandshakeTTL = "session.handshake_ttl"
	keyBrowserTTL   = "session.browser_ttl"
)

type SessionConfig interface {
	GetPendingWait() time.Duration
	GetConfirmWait() time.Duration
	GetHandshakeTTL() time.Duration
	GetBrowserSessionTTL() time.Duration
}

type Session struct {
	v *viper.Viper
}

var _ SessionConfig = Session{}

// GetPendingWait is how long a protected request waits for the first session notification.
func (s Session) GetPendingWait() time.Duration {
	return s.v.GetDuration(keyPendingWait)
}

// GetConfirmWait is how long a sign-in waits for the session to reflect it.
func (s Session) GetConfirmWait() time.Duration {
	return s.v.GetDuration(keyConfirmWait)
}

func (s Session) GetHandshakeTTL() time.Duration {
	return s.v.GetDuration(keyHandshakeTTL)
}

// GetBrowserSessionTTL is the lifetime of a browser's login session cookie.
func (s Session) GetBrowserSessionTTL() time.Duration {
	return s.v.GetDuration(keyBrowserTTL)
}
