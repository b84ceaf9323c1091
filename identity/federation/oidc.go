// Package federation runs the third-party sign-in handshake against an OpenID
// Connect issuer such as Google.
package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"golang.org/x/oauth2"
)

const GoogleIssuer = "https://accounts.google.com"

var (
	ErrMissingIDToken   = errors.New("no id_token in token response")
	ErrNonceMismatch    = errors.New("id_token nonce does not match the handshake")
	ErrEmailNotVerified = errors.New("email address is not verified")
)

// Federation is one third-party identity provider.
type Federation interface {
	Descriptor() identity.Descriptor
	// AuthCodeURL returns the authorization URL for the handshake.
	AuthCodeURL(hs identity.Handshake) string
	// Exchange redeems the grant and returns the verified identity.
	Exchange(ctx context.Context, grant identity.Grant) (*identity.Identity, error)
}

// Config describes an OIDC relying party registration.
type Config struct {
	Descriptor   identity.Descriptor
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string // Defaults to openid, profile and email
}

var _ Federation = (*OIDC)(nil)

// OIDC is a Federation backed by an OpenID Connect issuer.
type OIDC struct {
	descriptor   identity.Descriptor
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewOIDC discovers the issuer and prepares the relying party.
func NewOIDC(ctx context.Context, cfg Config) (*OIDC, error) {
	if cfg.Descriptor.Name == "" {
		return nil, errors.New("[federation NewOIDC] descriptor name is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("[federation NewOIDC] client id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDC{
		descriptor: cfg.Descriptor,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.ClientID,
		}),
	}, nil
}

func (o *OIDC) Descriptor() identity.Descriptor {
	return o.descriptor
}

func (o *OIDC) AuthCodeURL(hs identity.Handshake) string {
	return o.oauth2Config.AuthCodeURL(hs.State,
		oidc.Nonce(hs.Nonce),
		oauth2.S256ChallengeOption(hs.CodeVerifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (o *OIDC) Exchange(ctx context.Context, grant identity.Grant) (*identity.Identity, error) {
	token, err := o.oauth2Config.Exchange(ctx, grant.Code, oauth2.VerifierOption(grant.Handshake.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, ErrMissingIDToken
	}

	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims struct {
		Nonce         string `json:"nonce"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	if claims.Nonce != grant.Handshake.Nonce {
		return nil, ErrNonceMismatch
	}
	// Issuers that omit email_verified are trusted for the address they return.
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return &identity.Identity{
		ID:          claims.Sub,
		DisplayName: claims.Name,
		Email:       claims.Email,
		AvatarURL:   claims.Picture,
		Provider:    o.descriptor.Name,
	}, nil
}
