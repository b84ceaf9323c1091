package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/rs/zerolog/log"
)

var ErrStoreClosed = errors.New("session store closed")

var _ identity.Observer = (*Store)(nil)

// Metrics receives store events. Implementations must be safe for concurrent use.
type Metrics interface {
	SessionChanged(signedIn bool)
	StreamError()
	SubscribeRetry()
}

type nopMetrics struct{}

func (nopMetrics) SessionChanged(bool) {}
func (nopMetrics) StreamError()        {}
func (nopMetrics) SubscribeRetry()     {}

// Option configures a Store.
type Option func(*Store)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) {
		s.retry = p
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Store is the single source of truth for the console session. It subscribes to
// the provider once, applies notifications one at a time and fans each applied
// state out to its watchers in order.
type Store struct {
	// deliverMu serialises apply + fan-out so watchers see states in order.
	deliverMu sync.Mutex

	mu          sync.RWMutex
	current     Session
	changed     chan struct{}
	watchers    map[uint64]func(Session)
	nextWatcher uint64
	started     bool
	closed      bool
	unsubscribe identity.Unsubscribe
	cancelRetry context.CancelFunc
	retryWG     sync.WaitGroup

	retry   RetryPolicy
	metrics Metrics
}

// NewStore creates a store in the Initializing state.
func NewStore(opts ...Option) *Store {
	s := &Store{
		current:  Session{Status: StatusInitializing},
		changed:  make(chan struct{}),
		watchers: make(map[uint64]func(Session)),
		retry:    DefaultRetryPolicy(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the store to sub. Only the first call subscribes. When the
// subscription cannot be opened the store marks itself degraded and keeps
// retrying in the background until it succeeds or the store is closed.
func (s *Store) Start(ctx context.Context, sub identity.Subscriber) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	retryCtx, cancel := context.WithCancel(context.Background())
	s.cancelRetry = cancel
	s.mu.Unlock()

	unsub, err := sub.Subscribe(ctx, s)
	if err == nil {
		s.keepSubscription(unsub)
		return nil
	}

	log.Warn().Err(err).Msg("session subscription failed, retrying in background")
	s.degrade(err)
	s.retryWG.Add(1)
	go s.retrySubscribe(retryCtx, sub)
	return nil
}

func (s *Store) retrySubscribe(ctx context.Context, sub identity.Subscriber) {
	defer s.retryWG.Done()

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry.Backoff(attempt)):
		}

		s.metrics.SubscribeRetry()
		unsub, err := sub.Subscribe(ctx, s)
		if err == nil {
			log.Info().Int("attempt", attempt+1).Msg("session subscription established")
			s.keepSubscription(unsub)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("session subscription retry failed")
		s.degrade(err)
	}
}

// keepSubscription stores unsub, or releases it at once when the store closed meanwhile.
func (s *Store) keepSubscription(unsub identity.Unsubscribe) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsubscribe = unsub
	s.mu.Unlock()
}

// OnSessionChanged applies a provider notification: the identity is replaced,
// the store becomes Ready and watchers are notified.
func (s *Store) OnSessionChanged(id *identity.Identity) {
	s.apply(func(cur Session) Session {
		return Session{
			Identity: id.Clone(),
			Status:   StatusReady,
			Version:  cur.Version + 1,
		}
	})
	s.metrics.SessionChanged(id != nil)
}

// OnStreamError marks the session degraded. Identity and status are kept.
func (s *Store) OnStreamError(err error) {
	log.Warn().Err(err).Msg("session notification stream error")
	s.degrade(err)
}

func (s *Store) degrade(err error) {
	s.metrics.StreamError()
	s.apply(func(cur Session) Session {
		cur.Degraded = true
		cur.LastError = err.Error()
		return cur
	})
}

func (s *Store) apply(mutate func(Session) Session) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := mutate(s.current)
	s.current = next
	ch := s.changed
	s.changed = make(chan struct{})
	ids := s.watcherIDsLocked()
	s.mu.Unlock()

	close(ch)
	for _, wid := range ids {
		s.mu.RLock()
		fn, ok := s.watchers[wid]
		s.mu.RUnlock()
		if ok {
			fn(next.clone())
		}
	}
}

func (s *Store) watcherIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Current returns a snapshot of the latest applied notification.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Watch calls fn with the current session and then with every change, in
// order. fn must not call Watch. The returned cancel is idempotent.
func (s *Store) Watch(fn func(Session)) (cancel func()) {
	s.deliverMu.Lock()
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	snap := s.current.clone()
	s.mu.Unlock()
	fn(snap)
	s.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Changed returns a channel that is closed on the next change.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Await blocks until pred holds for the current session, ctx is done or the store closes.
func (s *Store) Await(ctx context.Context, pred func(Session) bool) (Session, error) {
	for {
		s.mu.RLock()
		snap := s.current.clone()
		ch := s.changed
		closed := s.closed
		s.mu.RUnlock()

		if closed {
			return snap, ErrStoreClosed
		}
		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// Close releases the subscription exactly once, stops any retry, resets the
// session to Initializing and drops watchers. Calling it again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	cancel := s.cancelRetry
	s.current = Session{Status: StatusInitializing}
	s.watchers = make(map[uint64]func(Session))
	ch := s.changed
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.retryWG.Wait()
	if unsub != nil {
		unsub()
	}
	close(ch)
	return nil
}
