// Package postgres stores staff accounts in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
)

var _ directory.Repo = (*AccountRepo)(nil)

const accountColumns = `id, email, display_name, avatar_url, password_hash, disabled, created_at, last_sign_in_at`

// AccountRepo is a directory.Repo backed by the staff_accounts table.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

func (r *AccountRepo) Upsert(ctx context.Context, account *directory.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.Email = directory.NormalizeEmail(account.Email)

	query := `
		INSERT INTO staff_accounts (id, email, display_name, avatar_url, password_hash, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			password_hash = EXCLUDED.password_hash,
			disabled = EXCLUDED.disabled
	`
	_, err := r.pool.Exec(ctx, query,
		account.ID, account.Email, account.DisplayName, account.AvatarURL,
		account.PasswordHash, account.Disabled, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*directory.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM staff_accounts WHERE email = $1`,
		directory.NormalizeEmail(email))
	return scanAccount(row)
}

func (r *AccountRepo) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE staff_accounts SET last_sign_in_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record sign in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*directory.Account, error) {
	var (
		a          directory.Account
		lastSignIn *time.Time
	)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.AvatarURL, &a.PasswordHash, &a.Disabled, &a.CreatedAt, &lastSignIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if lastSignIn != nil {
		a.LastSignInAt = *lastSignIn
	}
	return &a, nil
}
