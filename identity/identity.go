// Package identity defines the contract between the console and the identity
// provider: who a signed-in user is, how sign-in is requested, and how
// session-change notifications are delivered.
package identity

import "context"

// Provider names recorded on an Identity.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Identity is the opaque user record the provider reports for a signed-in user.
// A nil *Identity is the "none" marker, meaning signed out.
type Identity struct {
	ID          string `json:"id"`                     // Unique, provider-assigned identifier
	DisplayName string `json:"display_name,omitempty"` // Human readable name
	Email       string `json:"email,omitempty"`        // Sign-in email
	AvatarURL   string `json:"avatar_url,omitempty"`   // Avatar reference
	Provider    string `json:"provider,omitempty"`     // How the user signed in (password, google, ...)
}

// Clone returns a copy of the identity so holders cannot mutate each other's view.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Same reports whether a and b describe the same signed-in state.
func Same(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// Observer receives session-change notifications from the provider.
// Notifications are delivered one at a time, in the order they occur, and a call
// returns before the next one starts.
type Observer interface {
	// OnSessionChanged reports the new signed-in identity, or nil when signed out.
	OnSessionChanged(id *Identity)
	// OnStreamError reports a failure of the notification stream itself. The last
	// delivered session stays valid until the next OnSessionChanged.
	OnStreamError(err error)
}

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Descriptor names a third-party provider for the popup/redirect sign-in path.
type Descriptor struct {
	Name        string // Registry key, e.g. "google"
	DisplayName string // Label used in user facing messages, e.g. "Google"
}

// Google is the descriptor of the Google sign-in button.
var Google = Descriptor{Name: ProviderGoogle, DisplayName: "Google"}

// Handshake holds the per-attempt secrets of a third-party sign-in.
type Handshake struct {
	State        string // CSRF state echoed back by the provider
	Nonce        string // Bound into the ID token
	CodeVerifier string // PKCE verifier
}

// Grant is what the third-party provider hands back on its callback.
type Grant struct {
	Code      string
	Handshake Handshake
}

// Subscriber opens the long-lived session-change notification stream.
type Subscriber interface {
	Subscribe(ctx context.Context, obs Observer) (Unsubscribe, error)
}

// Provider is the identity provider as seen by the console.
type Provider interface {
	Subscriber

	// SignInWithCredentials signs in with email and password. Failures are *Error
	// values carrying an ErrorCode.
	SignInWithCredentials(ctx context.Context, email, password string) (*Identity, error)

	// ProviderAuthURL returns the URL that opens the third-party handshake.
	ProviderAuthURL(d Descriptor, hs Handshake) (string, error)

	// SignInWithProvider completes a third-party handshake.
	SignInWithProvider(ctx context.Context, d Descriptor, grant Grant) (*Identity, error)

	// SignOut ends the session; subscribers then receive OnSessionChanged(nil).
	SignOut(ctx context.Context) error
}
