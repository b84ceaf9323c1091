// Package directory holds the staff accounts allowed into the admin console.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"golang.org/x/crypto/bcrypt"
)

var ErrNotFound = errors.New("account not found")

// Account is a staff member of the console.
type Account struct {
	ID           string    `json:"id,omitempty"`              // Unique identifier, reported as Identity.ID
	Email        string    `json:"email,omitempty"`           // Sign-in email, stored lower case
	DisplayName  string    `json:"display_name,omitempty"`    // Shown in the sidebar
	AvatarURL    string    `json:"avatar_url,omitempty"`      // Shown in the sidebar
	PasswordHash string    `json:"-"`                         // Empty for accounts that only use a third-party provider
	Disabled     bool      `json:"disabled,omitempty"`        // Disabled accounts cannot sign in
	CreatedAt    time.Time `json:"created_at,omitempty"`      // When the account was created
	LastSignInAt time.Time `json:"last_sign_in_at,omitempty"` // Last successful sign-in
}

// Identity returns the identity reported for this account when it signs in via provider.
func (a *Account) Identity(provider string) *identity.Identity {
	return &identity.Identity{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		AvatarURL:   a.AvatarURL,
		Provider:    provider,
	}
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Repo stores staff accounts.
type Repo interface {
	Upsert(ctx context.Context, account *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	RecordSignIn(ctx context.Context, id string, at time.Time) error
}

// NormalizeEmail is the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash reports whether password matches hash. An empty hash never matches.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
