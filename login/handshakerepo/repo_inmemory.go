package handshakerepo

import (
	"errors"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/wastekonnect-admin/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.RWMutex
	states  map[string]*PendingHandshake
	ttl     time.Duration
	nowTime func() time.Time
}

// InMemoryOption configures an InMemoryRepo.
type InMemoryOption func(*InMemoryRepo)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.nowTime = nowFunc
	}
}

// NewInMemoryRepo creates a new in-memory handshake repository
func NewInMemoryRepo(ttl time.Duration, opts ...InMemoryOption) *InMemoryRepo {
	r := &InMemoryRepo{
		states:  make(map[string]*PendingHandshake),
		ttl:     ttl,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert stores or updates a pending handshake and drops expired ones
func (r *InMemoryRepo) Upsert(state string, pending *PendingHandshake) error {
	if state == "" {
		return autherrors.ErrEmptyState
	}
	if pending == nil {
		return errors.New("pending handshake cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowTime()
	for s, p := range r.states {
		if r.expired(p, now) {
			delete(r.states, s)
		}
	}

	// Create a copy to prevent external modifications
	c := *pending
	r.states[state] = &c
	return nil
}

// Take removes a pending handshake and returns it
func (r *InMemoryRepo) Take(state string) (*PendingHandshake, error) {
	if state == "" {
		return nil, autherrors.ErrEmptyState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, exists := r.states[state]
	if !exists {
		return nil, autherrors.ErrHandshakeNotFound
	}
	delete(r.states, state)
	if r.expired(pending, r.nowTime()) {
		return nil, autherrors.ErrHandshakeNotFound
	}
	return pending, nil
}

// Delete removes a pending handshake
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return autherrors.ErrEmptyState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

// Len returns the number of stored handshakes, expired ones included.
func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

func (r *InMemoryRepo) expired(p *PendingHandshake, now time.Time) bool {
	return r.ttl > 0 && now.Sub(p.CreatedAt) > r.ttl
}
