package fakeaccountrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/wastekonnect-admin/identity/directory"
)

var _ directory.Repo = (*FakeAccountRepo)(nil)

type FakeAccountRepo struct {
	accounts map[string]*directory.Account
	emailIds map[string]string // email to account id
	lock     sync.RWMutex
}

func NewFakeAccountRepo() *FakeAccountRepo {
	return &FakeAccountRepo{
		accounts: make(map[string]*directory.Account),
		emailIds: make(map[string]string),
	}
}

func (r *FakeAccountRepo) Upsert(_ context.Context, account *directory.Account) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.Email = directory.NormalizeEmail(account.Email)

	if prev, ok := r.accounts[account.ID]; ok && prev.Email != account.Email {
		delete(r.emailIds, prev.Email)
	}
	r.accounts[account.ID] = account.Clone()
	r.emailIds[account.Email] = account.ID
	return nil
}

func (r *FakeAccountRepo) GetByEmail(_ context.Context, email string) (*directory.Account, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.emailIds[directory.NormalizeEmail(email)]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return r.accounts[id].Clone(), nil
}

func (r *FakeAccountRepo) RecordSignIn(_ context.Context, id string, at time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return directory.ErrNotFound
	}
	a.LastSignInAt = at
	return nil
}
