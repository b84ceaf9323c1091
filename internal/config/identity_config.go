package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	keyGoogleClientID     = "google.client_id"
	keyGoogleClientSecret = "google.client_secret"
	keyGoogleIssuer       = "google.issuer"
	keyAssertionKey       = "assertion.key"
	keyAssertionTTL       = "assertion.ttl"
	keyLoginRate          = "login.rate_per_minute"
	keyLoginBurst         = "login.burst"
)

type IdentityConfig interface {
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetGoogleIssuer() string
	GetAssertionKey() string
	GetAssertionTTL() time.Duration
	GetLoginAttemptsPerMinute() float64
	GetLoginAttemptBurst() int
}

type Identity struct {
	v *viper.Viper
}

var _ IdentityConfig = Identity{}

// GetGoogleClientID is empty when Google sign-in is not configured.
func (i Identity) GetGoogleClientID() string {
	return i.v.GetString(keyGoogleClientID)
}

func (i Identity) GetGoogleClientSecret() string {
	return i.v.GetString(keyGoogleClientSecret)
}

func (i Identity) GetGoogleIssuer() string {
	return i.v.GetString(keyGoogleIssuer)
}

// GetAssertionKey is the HMAC key signing session changes on the shared bus.
func (i Identity) GetAssertionKey() string {
	return i.v.GetString(keyAssertionKey)
}

func (i Identity) GetAssertionTTL() time.Duration {
	return i.v.GetDuration(keyAssertionTTL)
}

func (i Identity) GetLoginAttemptsPerMinute() float64 {
	return i.v.GetFloat64(keyLoginRate)
}

func (i Identity) GetLoginAttemptBurst() int {
	return i.v.GetInt(keyLoginBurst)
}
