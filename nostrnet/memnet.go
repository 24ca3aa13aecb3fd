package nostrnet

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
	"github.com/nbd-wtf/go-nostr"
)

// memSub is a live subscription on a MemNetwork.
type memSub struct {
	filters nostr.Filters
	updates *queue.ConcurrentQueue
}

// MemNetwork is an in-process stand-in for a set of relays. It stores every
// published event and feeds matching ones to subscribers.
type MemNetwork struct {
	mtx        sync.Mutex
	events     []*nostr.Event
	ids        map[string]struct{}
	subs       map[uint64]*memSub
	nextSubID  uint64
	publishErr error
}

// A compile-time check to ensure MemNetwork satisfies the Transport
// interface.
var _ Transport = (*MemNetwork)(nil)

// NewMemNetwork returns an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		ids:  make(map[string]struct{}),
		subs: make(map[uint64]*memSub),
	}
}

// SetPublishError makes every following Publish fail with err. A nil error
// restores normal operation.
func (m *MemNetwork) SetPublishError(err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.publishErr = err
}

// Inject stores an event without any checks, e.g. a malformed one.
func (m *MemNetwork) Inject(ev *nostr.Event) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.store(ev)
}

// Events returns every stored event in publication order.
func (m *MemNetwork) Events() []*nostr.Event {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	events := make([]*nostr.Event, len(m.events))
	copy(events, m.events)

	return events
}

// Publish stores the event and hands it to every matching subscriber.
func (m *MemNetwork) Publish(_ context.Context, ev *nostr.Event) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}

	m.store(ev)

	return nil
}

// store must be called with the mutex held.
func (m *MemNetwork) store(ev *nostr.Event) {
	if _, ok := m.ids[ev.ID]; ok {
		return
	}
	m.ids[ev.ID] = struct{}{}

	evCopy := *ev
	m.events = append(m.events, &evCopy)

	for _, sub := range m.subs {
		if sub.filters.Match(&evCopy) {
			sub.updates.ChanIn() <- &evCopy
		}
	}
}

// Subscribe streams stored and future events matching the filters until the
// context is canceled.
func (m *MemNetwork) Subscribe(ctx context.Context,
	filters nostr.Filters) (<-chan *nostr.Event, error) {

	sub := &memSub{
		filters: filters,
		updates: queue.NewConcurrentQueue(20),
	}
	sub.updates.Start()

	m.mtx.Lock()
	for _, ev := range m.events {
		if filters.Match(ev) {
			sub.updates.ChanIn() <- ev
		}
	}
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = sub
	m.mtx.Unlock()

	out := make(chan *nostr.Event)
	go func() {
		defer func() {
			m.mtx.Lock()
			delete(m.subs, id)
			m.mtx.Unlock()

			sub.updates.Stop()
			close(out)
		}()

		for {
			select {
			case item, ok := <-sub.updates.ChanOut():
				if !ok {
					return
				}

				select {
				case out <- item.(*nostr.Event):
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Query returns the stored events matching the filters.
func (m *MemNetwork) Query(_ context.Context,
	filters nostr.Filters) ([]*nostr.Event, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	var events []*nostr.Event
	for _, ev := range m.events {
		if filters.Match(ev) {
			events = append(events, ev)
		}
	}

	return events, nil
}
