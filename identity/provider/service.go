// Package provider is the identity provider the console signs in against: staff
// credentials from the directory, third-party sign-in through federation, and
// session-change notifications over a bus.
package provider

import (
	"context"
	stderrors "errors"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/identity/bus"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
	"github.com/jrsteele09/wastekonnect-admin/identity/federation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var _ identity.Provider = (*Service)(nil)

// Service implements identity.Provider.
type Service struct {
	accounts    directory.Repo
	bus         bus.Bus
	federations map[string]federation.Federation
	limiter     *AttemptLimiter
	nowTime     func() time.Time // nowTime function (injectable for testing)
}

// ServiceOption modifies a Service.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithFederation registers a third-party provider under its descriptor name.
func WithFederation(f federation.Federation) ServiceOption {
	return func(s *Service) {
		s.federations[f.Descriptor().Name] = f
	}
}

// WithAttemptLimiter replaces the default credential attempt limiter.
func WithAttemptLimiter(l *AttemptLimiter) ServiceOption {
	return func(s *Service) {
		s.limiter = l
	}
}

func NewService(accounts directory.Repo, b bus.Bus, options ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("[provider NewService] accounts repo is required")
	}
	if b == nil {
		return nil, errors.New("[provider NewService] bus is required")
	}

	s := &Service{
		accounts:    accounts,
		bus:         b,
		federations: make(map[string]federation.Federation),
		limiter:     NewAttemptLimiter(DefaultAttemptRate, DefaultAttemptBurst),
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Subscribe opens the session-change stream. The current session is delivered first.
func (s *Service) Subscribe(ctx context.Context, obs identity.Observer) (identity.Unsubscribe, error) {
	return s.bus.Subscribe(ctx, obs)
}

// Descriptors lists the registered third-party providers, sorted by name.
func (s *Service) Descriptors() []identity.Descriptor {
	out := make([]identity.Descriptor, 0, len(s.federations))
	for _, f := range s.federations {
		out = append(out, f.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) SignInWithCredentials(ctx context.Context, email, password string) (*identity.Identity, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return nil, identity.NewError(identity.CodeInvalidEmail, "the email address is badly formatted")
	}
	key := directory.NormalizeEmail(email)

	if !s.limiter.Allow(key, s.nowTime()) {
		return nil, identity.NewError(identity.CodeTooManyRequests, "too many sign-in attempts for this account")
	}

	account, err := s.accounts.GetByEmail(ctx, key)
	if stderrors.Is(err, directory.ErrNotFound) {
		return nil, identity.NewError(identity.CodeUserNotFound, "there is no staff account with this email")
	}
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternal, "account lookup failed",
			errors.Wrap(err, "[Service.SignInWithCredentials] GetByEmail"))
	}
	if account.Disabled {
		return nil, identity.NewError(identity.CodeUserDisabled, "this account has been disabled")
	}
	if !directory.CheckPasswordHash(password, account.PasswordHash) {
		return nil, identity.NewError(identity.CodeWrongPassword, "the password is invalid")
	}

	s.limiter.Reset(key)
	return s.signIn(ctx, account, identity.ProviderPassword)
}

func (s *Service) ProviderAuthURL(d identity.Descriptor, hs identity.Handshake) (string, error) {
	f, err := s.federation(d)
	if err != nil {
		return "", err
	}
	return f.AuthCodeURL(hs), nil
}

func (s *Service) SignInWithProvider(ctx context.Context, d identity.Descriptor, grant identity.Grant) (*identity.Identity, error) {
	f, err := s.federation(d)
	if err != nil {
		return nil, err
	}

	federated, err := f.Exchange(ctx, grant)
	if err != nil {
		return nil, identity.WrapError(identity.CodeProviderRejected, err.Error(), err)
	}

	account, err := s.accounts.GetByEmail(ctx, federated.Email)
	if stderrors.Is(err, directory.ErrNotFound) {
		return nil, identity.NewError(identity.CodeUserNotFound, federated.Email+" is not a staff account")
	}
	if err != nil {
		return nil, identity.WrapError(identity.CodeInternal, "account lookup failed",
			errors.Wrap(err, "[Service.SignInWithProvider] GetByEmail"))
	}
	if account.Disabled {
		return nil, identity.NewError(identity.CodeUserDisabled, "this account has been disabled")
	}

	// Fill profile gaps from the provider without overwriting what staff set.
	changed := false
	if account.DisplayName == "" && federated.DisplayName != "" {
		account.DisplayName = federated.DisplayName
		changed = true
	}
	if account.AvatarURL == "" && federated.AvatarURL != "" {
		account.AvatarURL = federated.AvatarURL
		changed = true
	}
	if changed {
		if err := s.accounts.Upsert(ctx, account); err != nil {
			log.Warn().Err(err).Str("account", account.ID).Msg("failed to store federated profile")
		}
	}

	return s.signIn(ctx, account, d.Name)
}

func (s *Service) SignOut(ctx context.Context) error {
	if err := s.bus.Publish(ctx, nil); err != nil {
		return errors.Wrap(err, "[Service.SignOut] publish")
	}
	return nil
}

func (s *Service) signIn(ctx context.Context, account *directory.Account, providerName string) (*identity.Identity, error) {
	if err := s.accounts.RecordSignIn(ctx, account.ID, s.nowTime().UTC()); err != nil {
		log.Warn().Err(err).Str("account", account.ID).Msg("failed to record sign in")
	}

	id := account.Identity(providerName)
	if err := s.bus.Publish(ctx, id); err != nil {
		return nil, identity.WrapError(identity.CodeInternal, "session could not be started",
			errors.Wrap(err, "[Service.signIn] publish"))
	}
	return id.Clone(), nil
}

func (s *Service) federation(d identity.Descriptor) (federation.Federation, error) {
	f, ok := s.federations[d.Name]
	if !ok {
		return nil, identity.NewError(identity.CodeUnknownProvider, d.Name+" sign-in is not configured")
	}
	return f, nil
}
