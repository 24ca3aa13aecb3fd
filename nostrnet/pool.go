package nostrnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

// DefaultSeenCacheSize is the number of event ids remembered per
// subscription to drop copies delivered by several relays.
const DefaultSeenCacheSize = 4096

// PoolConfig holds the options shared by the relays of a pool.
type PoolConfig struct {
	// URLs is the list of relay websocket URLs.
	URLs []string

	// Dial, if set, opens the TCP connections underneath the websockets.
	Dial DialFunc

	// ConnectTimeout bounds each websocket handshake.
	ConnectTimeout time.Duration

	// MinBackoff and MaxBackoff bound the reconnection delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// SeenCacheSize is the number of event ids remembered per
	// subscription for deduplication.
	SeenCacheSize uint64
}

// seenEvent marks an event id as delivered.
type seenEvent struct{}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (seenEvent) Size() (uint64, error) {
	return 1, nil
}

// Pool spreads publications and subscriptions over a set of relays.
type Pool struct {
	cfg *PoolConfig

	relays []*Relay
}

// A compile-time check to ensure Pool satisfies the Transport interface.
var _ Transport = (*Pool)(nil)

// NewPool creates a pool over the configured relays. Duplicate URLs are
// ignored.
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg.SeenCacheSize == 0 {
		cfg.SeenCacheSize = DefaultSeenCacheSize
	}

	seen := make(map[string]struct{}, len(cfg.URLs))
	var relays []*Relay
	for _, url := range cfg.URLs {
		if _, ok := seen[url]; ok || url == "" {
			continue
		}
		seen[url] = struct{}{}

		relays = append(relays, NewRelay(&RelayConfig{
			URL:            url,
			Dial:           cfg.Dial,
			ConnectTimeout: cfg.ConnectTimeout,
			MinBackoff:     cfg.MinBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		}))
	}

	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	return &Pool{
		cfg:    cfg,
		relays: relays,
	}, nil
}

// Relays returns the relay clients of the pool.
func (p *Pool) Relays() []*Relay {
	return p.relays
}

// Connect starts every relay and waits until at least one of them is
// connected. Relays that are down keep being retried in the background.
func (p *Pool) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	connected := make(chan struct{}, len(p.relays))
	for _, relay := range p.relays {
		go func(relay *Relay) {
			if err := relay.Connect(ctx); err == nil {
				connected <- struct{}{}
			}
		}(relay)
	}

	select {
	case <-connected:
		return nil

	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNoRelayReachable, ctx.Err())
	}
}

// ConnectedCount returns the number of relays with a live connection.
func (p *Pool) ConnectedCount() int {
	var n int
	for _, relay := range p.relays {
		if relay.IsConnected() {
			n++
		}
	}

	return n
}

// Stop disconnects from every relay.
func (p *Pool) Stop() error {
	for _, relay := range p.relays {
		if err := relay.Stop(); err != nil {
			return err
		}
	}

	return nil
}

// Publish sends the event to every connected relay concurrently. It succeeds
// if at least one relay accepted the event.
func (p *Pool) Publish(ctx context.Context, ev *nostr.Event) error {
	var (
		accepted atomic.Int32
		errMtx   sync.Mutex
		errs     []error
	)

	var g errgroup.Group
	for _, relay := range p.relays {
		g.Go(func() error {
			err := relay.Publish(ctx, ev)
			if err != nil {
				log.Debugf("Publish of %v to %v failed: %v",
					ev.ID, relay.URL(), err)

				errMtx.Lock()
				errs = append(errs, fmt.Errorf("%v: %w",
					relay.URL(), err))
				errMtx.Unlock()

				return nil
			}

			accepted.Add(1)

			return nil
		})
	}
	_ = g.Wait()

	if accepted.Load() == 0 {
		return fmt.Errorf("%w: %w", ErrPublishFailed,
			errors.Join(errs...))
	}

	log.Tracef("Event %v accepted by %d/%d relays", ev.ID,
		accepted.Load(), len(p.relays))

	return nil
}

// Subscribe merges the matching events of every relay into one stream,
// dropping events already delivered by another relay.
func (p *Pool) Subscribe(ctx context.Context,
	filters nostr.Filters) (<-chan *nostr.Event, error) {

	subs := make([]*RelaySubscription, 0, len(p.relays))
	for _, relay := range p.relays {
		sub, err := relay.Subscribe(ctx, filters)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	seen := lru.NewCache[string, seenEvent](p.cfg.SeenCacheSize)
	out := make(chan *nostr.Event)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *RelaySubscription) {
			defer wg.Done()

			for {
				select {
				case ev := <-sub.Events():
					if !markSeen(seen, ev.ID) {
						continue
					}

					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}

				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// markSeen records the id and returns true if it was not seen before.
func markSeen(seen *lru.Cache[string, seenEvent], id string) bool {
	_, err := seen.Get(id)
	if !errors.Is(err, cache.ErrElementNotFound) {
		return false
	}
	_, _ = seen.Put(id, seenEvent{})

	return true
}

// Query collects the stored events matching the filters from every relay of
// the pool, connecting those that are not up yet. It returns once every relay
// signaled the end of stored events or could not be reached before the
// context is done. It fails if none finished sending its stored events.
func (p *Pool) Query(ctx context.Context,
	filters nostr.Filters) ([]*nostr.Event, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type relayResult struct {
		url      string
		events   []*nostr.Event
		complete bool
	}

	var (
		results []relayResult
		resMtx  sync.Mutex
		g       errgroup.Group
	)
	for _, relay := range p.relays {
		g.Go(func() error {
			// A relay still connecting may hold events the others
			// lack, so it is waited for until the context is done.
			if err := relay.Connect(ctx); err != nil {
				log.Warnf("Relay %v unavailable for query: %v",
					relay.URL(), err)
				return nil
			}

			sub, err := relay.Subscribe(ctx, filters)
			if err != nil {
				return err
			}

			res := relayResult{url: relay.URL()}
		loop:
			for {
				select {
				case ev := <-sub.Events():
					res.events = append(res.events, ev)

				case <-sub.EndOfStored():
					res.complete = true
					break loop

				case <-ctx.Done():
					break loop
				}
			}

			// Drain what was buffered before the end marker.
			for drained := false; !drained; {
				select {
				case ev := <-sub.Events():
					res.events = append(res.events, ev)
				default:
					drained = true
				}
			}

			resMtx.Lock()
			results = append(results, res)
			resMtx.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, ErrNoRelayReachable
	}

	seen := make(map[string]struct{})
	var (
		events   []*nostr.Event
		complete int
	)
	for _, res := range results {
		if res.complete {
			complete++
		} else {
			log.Warnf("Relay %v did not finish sending stored "+
				"events", res.url)
		}

		for _, ev := range res.events {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			events = append(events, ev)
		}
	}

	if complete == 0 {
		return nil, fmt.Errorf("%w: no relay finished the query",
			ErrNoRelayReachable)
	}

	return events, nil
}
