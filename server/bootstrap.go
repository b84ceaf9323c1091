package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
	"github.com/jrsteele09/wastekonnect-admin/internal/utils"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAdminDisplayName = "System Administrator"

	generatedPasswordLength = 16
)

// InitialiseSystem creates the administrator account if it does not exist.
// Returns the generated password on first creation (empty string if already exists)
func (s *Server) InitialiseSystem(ctx context.Context) (generatedPassword string, err error) {
	adminEmail := directory.NormalizeEmail(s.config.GetAdminEmail())
	if adminEmail == "" {
		return "", nil
	}

	existing, err := s.accounts.GetByEmail(ctx, adminEmail)
	if err == nil && existing != nil {
		log.Debug().Str("email", adminEmail).Msg("Administrator account already exists")
		return "", nil
	}
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return "", fmt.Errorf("[server InitialiseSystem] failed to look up administrator: %w", err)
	}

	password := s.config.GetAdminPassword()
	if password == "" {
		generatedPassword = utils.RandomString(generatedPasswordLength)
		password = generatedPassword
	}

	passwordHash, err := directory.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to hash password: %w", err)
	}

	admin := &directory.Account{
		Email:        adminEmail,
		DisplayName:  DefaultAdminDisplayName,
		PasswordHash: passwordHash,
	}
	if err := s.accounts.Upsert(ctx, admin); err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to create administrator: %w", err)
	}

	log.Info().Str("email", adminEmail).Msg("Administrator account created")
	if generatedPassword != "" {
		// Printed once so the first operator can sign in.
		fmt.Printf("\n  Administrator: %s\n  Password:      %s\n  SAVE THIS PASSWORD - it will not be displayed again!\n\n", adminEmail, generatedPassword)
	}
	return generatedPassword, nil
}
