package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/session"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber records subscriptions and can fail the first few attempts.
type fakeSubscriber struct {
	mu           sync.Mutex
	failures     int
	subscribes   int
	unsubscribes int
	observer     identity.Observer
	subscribeErr error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, obs identity.Observer) (identity.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.failures > 0 {
		f.failures--
		return nil, f.subscribeErr
	}
	f.observer = obs
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
	}, nil
}

func (f *fakeSubscriber) counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func (f *fakeSubscriber) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observer != nil
}

func setupTestFixture(t *testing.T, opts ...session.Option) (*session.Store, *fakeSubscriber) {
	t.Helper()
	store := session.NewStore(opts...)
	sub := &fakeSubscriber{}
	require.NoError(t, store.Start(context.Background(), sub))
	t.Cleanup(func() { _ = store.Close() })
	return store, sub
}

func TestStore_InitialState(t *testing.T) {
	store := session.NewStore()
	s := store.Current()
	require.Equal(t, session.StatusInitializing, s.Status)
	require.Nil(t, s.Identity)
	require.False(t, s.Ready())
	require.False(t, s.SignedIn())
}

func TestStore_ReflectsNthNotification(t *testing.T) {
	store, _ := setupTestFixture(t)

	notifications := []*identity.Identity{
		{ID: "u1"},
		nil,
		{ID: "u2", DisplayName: "Bea"},
		{ID: "u2", DisplayName: "Bea"},
		nil,
	}
	for n, id := range notifications {
		store.OnSessionChanged(id)

		s := store.Current()
		require.Equal(t, session.StatusReady, s.Status)
		require.Equal(t, id, s.Identity)
		require.Equal(t, uint64(n+1), s.Version)
	}
}

func TestStore_SignOutRoundTrip(t *testing.T) {
	store, _ := setupTestFixture(t)

	// A slow watcher must not change the outcome.
	release := make(chan struct{})
	var seen atomic.Int32
	cancel := store.Watch(func(session.Session) {
		if seen.Add(1) == 2 {
			<-release
		}
	})
	defer cancel()

	done := make(chan struct{})
	go func() {
		store.OnSessionChanged(&identity.Identity{ID: "u1"})
		store.OnSessionChanged(nil)
		close(done)
	}()
	close(release)
	<-done

	s := store.Current()
	require.Equal(t, session.StatusReady, s.Status)
	require.Nil(t, s.Identity)
}

func TestStore_CurrentIsACopy(t *testing.T) {
	store, _ := setupTestFixture(t)
	id := &identity.Identity{ID: "u1", DisplayName: "Ada"}
	store.OnSessionChanged(id)
	id.DisplayName = "changed by provider"

	s := store.Current()
	require.Equal(t, "Ada", s.Identity.DisplayName)
	s.Identity.DisplayName = "changed by reader"
	require.Equal(t, "Ada", store.Current().Identity.DisplayName)
}

func TestStore_StartIsIdempotent(t *testing.T) {
	store, sub := setupTestFixture(t)
	require.NoError(t, store.Start(context.Background(), sub))
	require.NoError(t, store.Start(context.Background(), &fakeSubscriber{}))

	subscribes, _ := sub.counts()
	require.Equal(t, 1, subscribes)
}

func TestStore_CloseReleasesOnce(t *testing.T) {
	store := session.NewStore()
	sub := &fakeSubscriber{}
	require.NoError(t, store.Start(context.Background(), sub))
	store.OnSessionChanged(&identity.Identity{ID: "u1"})

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, unsubscribes := sub.counts()
	require.Equal(t, 1, unsubscribes)

	s := store.Current()
	require.Equal(t, session.StatusInitializing, s.Status)
	require.Nil(t, s.Identity)

	// Late notifications after teardown are ignored.
	store.OnSessionChanged(&identity.Identity{ID: "u2"})
	require.Equal(t, session.StatusInitializing, store.Current().Status)

	require.ErrorIs(t, store.Start(context.Background(), sub), session.ErrStoreClosed)
}

func TestStore_WatchDeliversInOrder(t *testing.T) {
	store, _ := setupTestFixture(t)

	var mu sync.Mutex
	var got []string
	cancel := store.Watch(func(s session.Session) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case !s.Ready():
			got = append(got, "initializing")
		case s.Identity == nil:
			got = append(got, "none")
		default:
			got = append(got, s.Identity.ID)
		}
	})

	store.OnSessionChanged(&identity.Identity{ID: "u1"})
	store.OnSessionChanged(nil)
	cancel()
	cancel()
	store.OnSessionChanged(&identity.Identity{ID: "u2"})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"initializing", "u1", "none"}, got)
}

func TestStore_Await(t *testing.T) {
	store, _ := setupTestFixture(t)

	t.Run("returns once the predicate holds", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		go func() {
			time.Sleep(10 * time.Millisecond)
			store.OnSessionChanged(nil)
			store.OnSessionChanged(&identity.Identity{ID: "u1"})
		}()
		s, err := store.Await(ctx, func(s session.Session) bool {
			return s.SignedIn() && s.Identity.ID == "u1"
		})
		require.NoError(t, err)
		require.Equal(t, "u1", s.Identity.ID)
	})

	t.Run("times out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := store.Await(ctx, func(s session.Session) bool { return s.Identity != nil && s.Identity.ID == "never" })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("changed channel closes on change", func(t *testing.T) {
		ch := store.Changed()
		store.OnSessionChanged(nil)
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("changed channel not closed")
		}
	})
}

func TestStore_StreamErrorDegrades(t *testing.T) {
	store, _ := setupTestFixture(t)
	store.OnSessionChanged(&identity.Identity{ID: "u1"})

	store.OnStreamError(errors.New("connection reset"))
	s := store.Current()
	require.True(t, s.Degraded)
	require.Equal(t, "connection reset", s.LastError)
	require.Equal(t, "u1", s.Identity.ID)
	require.Equal(t, session.StatusReady, s.Status)

	store.OnSessionChanged(&identity.Identity{ID: "u1"})
	require.False(t, store.Current().Degraded)
}

func TestStore_RetriesFailedSubscription(t *testing.T) {
	store := session.NewStore(session.WithRetryPolicy(session.RetryPolicy{
		Initial:    time.Millisecond,
		Max:        5 * time.Millisecond,
		Multiplier: 2,
	}))
	defer store.Close()

	sub := &fakeSubscriber{failures: 3, subscribeErr: errors.New("provider unreachable")}
	require.NoError(t, store.Start(context.Background(), sub))

	s := store.Current()
	require.True(t, s.Degraded)
	require.Equal(t, session.StatusInitializing, s.Status)

	require.Eventually(t, sub.subscribed, 2*time.Second, time.Millisecond)
	subscribes, _ := sub.counts()
	require.Equal(t, 4, subscribes)
}

func TestStore_CloseStopsRetry(t *testing.T) {
	store := session.NewStore(session.WithRetryPolicy(session.RetryPolicy{
		Initial:    time.Hour,
		Max:        time.Hour,
		Multiplier: 2,
	}))
	sub := &fakeSubscriber{failures: 1, subscribeErr: errors.New("provider unreachable")}
	require.NoError(t, store.Start(context.Background(), sub))

	closed := make(chan struct{})
	go func() {
		_ = store.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the retry loop")
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := session.DefaultRetryPolicy()
	require.Equal(t, 250*time.Millisecond, p.Backoff(0))
	require.Equal(t, 500*time.Millisecond, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(4))
	require.Equal(t, 30*time.Second, p.Backoff(20))
}
