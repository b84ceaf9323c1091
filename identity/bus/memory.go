package bus

import (
	"context"
	"sync"

	"github.com/jrsteele09/wastekonnect-admin/identity"
)

var _ Bus = (*Memory)(nil)

// Memory is an in-process Bus for a single console process.
type Memory struct {
	mu      sync.Mutex
	current *identity.Identity
	subs    map[uint64]*delivery
	nextID  uint64
}

// NewMemory creates an empty in-memory bus; its current session is "signed out".
func NewMemory() *Memory {
	return &Memory{subs: make(map[uint64]*delivery)}
}

// Subscribe delivers the current session to obs and then every published change.
func (m *Memory) Subscribe(_ context.Context, obs identity.Observer) (identity.Unsubscribe, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	d := newDelivery(obs)
	d.push(event{id: m.current})
	m.subs[id] = d
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			d.close()
		})
	}, nil
}

// Publish replaces the current session and fans it out in order.
func (m *Memory) Publish(_ context.Context, id *identity.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = id.Clone()
	for _, d := range m.subs {
		d.push(event{id: m.current})
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
