// Package bus carries session-change notifications from the identity provider to
// its subscribers. Every subscriber receives the current session first and then
// each change, one at a time and in publish order.
package bus

import (
	"context"
	"sync"

	"github.com/jrsteele09/wastekonnect-admin/identity"
)

// Bus is the provider side of the notification stream.
type Bus interface {
	identity.Subscriber

	// Publish records id (nil for signed out) as the current session and
	// notifies every subscriber.
	Publish(ctx context.Context, id *identity.Identity) error
}

// event is one queued notification: a session change or a stream error.
type event struct {
	id  *identity.Identity
	err error
}

// delivery feeds one observer from a FIFO queue on its own goroutine so a slow
// observer never blocks the publisher and never sees events out of order.
type delivery struct {
	obs    identity.Observer
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event
	closed bool
}

func newDelivery(obs identity.Observer) *delivery {
	d := &delivery{obs: obs}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *delivery) push(e event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, e)
	d.cond.Signal()
}

func (d *delivery) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
}

func (d *delivery) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		if e.err != nil {
			d.obs.OnStreamError(e.err)
			continue
		}
		d.obs.OnSessionChanged(e.id.Clone())
	}
}
