package handshakerepo

import (
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
)

// DefaultTTL is how long a started third-party sign-in may take to come back.
const DefaultTTL = 5 * time.Minute

// PendingHandshake is a started third-party sign-in awaiting its callback.
type PendingHandshake struct {
	Provider  identity.Descriptor `json:"provider"`
	Handshake identity.Handshake  `json:"handshake"`
	ReturnURL string              `json:"return_url,omitempty"`
	Owner     string              `json:"owner,omitempty"` // Browser the sign-in was started from
	CreatedAt time.Time           `json:"created_at"`
}

// Repo stores pending handshakes keyed by their state parameter. Entries older
// than the repo's TTL are reported as not found. Take removes and returns an
// entry in one step, so a state is only ever handed out once.
type Repo interface {
	Upsert(state string, pending *PendingHandshake) error
	Take(state string) (*PendingHandshake, error)
	Delete(state string) error
}
