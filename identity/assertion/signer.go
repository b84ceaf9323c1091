// Package assertion signs and verifies the session-change assertions that travel
// over a shared notification stream, so a subscriber only applies events minted
// by a process holding the signing key.
package assertion

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/wastekonnect-admin/identity"
)

const (
	// subjectSignedOut is the subject of an assertion reporting "no session".
	subjectSignedOut = ""

	minKeyLength = 32
)

var (
	ErrKeyTooShort      = errors.New("assertion signing key must be at least 32 bytes")
	ErrInvalidAssertion = errors.New("invalid session assertion")
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the JWT body of a session-change assertion.
type Claims struct {
	jwtlib.RegisteredClaims
	Seq         uint64 `json:"seq"`                // Position of the event on the stream
	SignedIn    bool   `json:"signed_in"`          // False for a sign-out event
	DisplayName string `json:"name,omitempty"`     // Identity display name
	Email       string `json:"email,omitempty"`    // Identity email
	AvatarURL   string `json:"picture,omitempty"`  // Identity avatar
	Provider    string `json:"provider,omitempty"` // How the identity signed in
}

// Assertion is a verified session-change event.
type Assertion struct {
	Seq       uint64
	Identity  *identity.Identity // nil when signed out
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer mints and verifies HS256 session assertions.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a signer. ttl bounds how long a signed-in assertion is
// honoured when it is read back as the current session.
func NewSigner(key []byte, issuer string, ttl time.Duration) (*Signer, error) {
	if len(key) < minKeyLength {
		return nil, ErrKeyTooShort
	}
	if ttl <= 0 {
		return nil, errors.New("[assertion NewSigner] ttl must be positive")
	}
	return &Signer{key: key, issuer: issuer, ttl: ttl}, nil
}

// Sign creates the assertion for the seq-th event. id may be nil (signed out).
func (s *Signer) Sign(seq uint64, id *identity.Identity) (string, error) {
	now := NowTimeFunc()
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subjectSignedOut,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
		Seq: seq,
	}
	if id != nil {
		claims.Subject = id.ID
		claims.SignedIn = true
		claims.DisplayName = id.DisplayName
		claims.Email = id.Email
		claims.AvatarURL = id.AvatarURL
		claims.Provider = id.Provider
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	token.Header["kid"] = "seq-" + strconv.FormatUint(seq, 10)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session assertion: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of raw and returns the event.
func (s *Signer) Verify(raw string) (*Assertion, error) {
	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, s.verificationKey,
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}
	if !token.Valid {
		return nil, ErrInvalidAssertion
	}
	if claims.SignedIn && claims.Subject == subjectSignedOut {
		return nil, fmt.Errorf("%w: signed-in assertion without subject", ErrInvalidAssertion)
	}

	a := &Assertion{Seq: claims.Seq}
	if claims.IssuedAt != nil {
		a.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		a.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.SignedIn {
		a.Identity = &identity.Identity{
			ID:          claims.Subject,
			DisplayName: claims.DisplayName,
			Email:       claims.Email,
			AvatarURL:   claims.AvatarURL,
			Provider:    claims.Provider,
		}
	}
	return a, nil
}

func (s *Signer) verificationKey(token *jwtlib.Token) (any, error) {
	if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.key, nil
}
