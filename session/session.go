// Package session holds the console's single, process-wide view of who is signed
// in, fed by the identity provider's session-change notifications.
package session

import (
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
)

type Status int

const (
	// StatusInitializing lasts from process start until the provider first reports.
	StatusInitializing Status = iota
	// StatusReady means the provider has reported at least once, signed out included.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a snapshot of the store.
type Session struct {
	Identity  *identity.Identity `json:"identity"`             // nil when signed out
	Status    Status             `json:"status"`               // Initializing until the first notification
	Version   uint64             `json:"version"`              // Notifications applied so far
	Degraded  bool               `json:"degraded,omitempty"`   // The notification stream has reported a failure
	LastError string             `json:"last_error,omitempty"` // Last stream failure while degraded
}

// Ready reports whether the provider has reported at least once.
func (s Session) Ready() bool {
	return s.Status == StatusReady
}

// SignedIn reports whether the session is ready and carries an identity.
func (s Session) SignedIn() bool {
	return s.Status == StatusReady && s.Identity != nil
}

func (s Session) clone() Session {
	s.Identity = s.Identity.Clone()
	return s
}

// RetryPolicy is the exponential backoff used while the initial subscription fails.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    250 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

// Backoff returns the delay before retry number attempt (0 based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.Initial
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.Max {
			return p.Max
		}
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}
