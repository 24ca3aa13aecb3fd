package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rasun/rasun/issuer"
	"github.com/rasun/rasun/monitoring"
	"github.com/rasun/rasun/nostrnet"
	"github.com/rasun/rasun/rscfg"
	"golang.org/x/time/rate"
)

// seenCacheSize is the number of request ids remembered to ignore copies of
// an event delivered by several relays.
const seenCacheSize = 10_000

// Resolver picks the address for a requester.
type Resolver interface {
	Resolve(ctx context.Context, requester string) (*issuer.Issuance,
		error)
}

// Messenger sends and receives encrypted direct messages as the service
// identity.
type Messenger interface {
	// Identity returns the service identity.
	Identity() *nostrnet.Identity

	// InboxFilter matches the messages addressed to the service.
	InboxFilter(since *nostr.Timestamp) nostr.Filter

	// Subscribe streams messages matching the filter.
	Subscribe(ctx context.Context,
		filter nostr.Filter) (<-chan nostrnet.Incoming, error)

	// Publish sends an encrypted message.
	Publish(ctx context.Context, recipient, plaintext string,
		tags ...nostr.Tag) (string, error)
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	// Messenger is bound to the response relays.
	Messenger Messenger

	// Resolver answers address requests.
	Resolver Resolver

	// Secret must follow the request name for a request to be served.
	Secret string

	// Clock sets the start of the subscription.
	Clock clock.Clock

	// PublishTimeout bounds the publication of a reply.
	PublishTimeout time.Duration

	// RateLimit limits the requests served per sender. Nil or disabled
	// means no limit.
	RateLimit *rscfg.RateLimit
}

// limiter is the token bucket of one sender.
type limiter struct {
	*rate.Limiter
}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (limiter) Size() (uint64, error) {
	return 1, nil
}

// seenEvent marks a request id as handled.
type seenEvent struct{}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (seenEvent) Size() (uint64, error) {
	return 1, nil
}

// Dispatcher serves the requests arriving on the response relays, one at a
// time.
type Dispatcher struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	limiters *lru.Cache[string, limiter]
	seen     *lru.Cache[string, seenEvent]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		cfg:  cfg,
		seen: lru.NewCache[string, seenEvent](seenCacheSize),
	}

	if cfg.RateLimit != nil && !cfg.RateLimit.Disable {
		d.limiters = lru.NewCache[string, limiter](
			cfg.RateLimit.CacheSize,
		)
	}

	return d
}

// Start subscribes to the messages sent to the service from now on and
// starts serving them.
func (d *Dispatcher) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	since := nostr.Timestamp(d.cfg.Clock.Now().Unix())
	msgs, err := d.cfg.Messenger.Subscribe(
		ctx, d.cfg.Messenger.InboxFilter(&since),
	)
	if err != nil {
		cancel()
		return err
	}

	log.Infof("Listening for requests to %v",
		d.cfg.Messenger.Identity().Npub())

	d.wg.Add(1)
	go d.requestLoop(ctx, msgs)

	return nil
}

// Stop ends the subscription and waits for the request in progress.
func (d *Dispatcher) Stop() error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Request dispatcher shutting down...")

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	return nil
}

// requestLoop handles incoming messages until the subscription ends.
//
// NOTE: MUST be run as a goroutine.
func (d *Dispatcher) requestLoop(ctx context.Context,
	msgs <-chan nostrnet.Incoming) {

	defer d.wg.Done()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				log.Debug("Request subscription closed")
				return
			}

			d.handle(ctx, msg)

		case <-ctx.Done():
			return
		}
	}
}

// handle serves a single message. Failures are logged and never stop the
// loop.
func (d *Dispatcher) handle(ctx context.Context, msg nostrnet.Incoming) {
	ev := msg.Event
	self := d.cfg.Messenger.Identity().PubKey()

	// Our own notes, e.g. recovery records on a shared relay.
	if ev.PubKey == self {
		return
	}

	if !d.firstSeen(ev.ID) {
		log.Tracef("Ignoring duplicate event %v", ev.ID)
		return
	}

	if msg.Err != nil {
		log.Errorf("Unable to open event %v from %v: %v", ev.ID,
			ev.PubKey, msg.Err)
		monitoring.DecryptFailures.Inc()

		return
	}

	kind := Classify(msg.Plaintext, d.cfg.Secret)
	monitoring.Requests.WithLabelValues(kind.String()).Inc()

	if kind == KindInvalid {
		log.Debugf("Ignoring invalid request %v from %v", ev.ID,
			ev.PubKey)
		return
	}

	if !d.allow(ev.PubKey) {
		log.Infof("Rate limiting %v request %v from %v", kind, ev.ID,
			ev.PubKey)
		monitoring.RateLimited.Inc()

		return
	}

	log.Debugf("Serving %v request %v from %v", kind, ev.ID, ev.PubKey)

	var reply string
	switch kind {
	case KindAddrReq:
		issuance, err := d.cfg.Resolver.Resolve(ctx, ev.PubKey)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Errorf("Unable to resolve address for %v: "+
					"%v", ev.PubKey, err)
			}

			return
		}
		reply = AddressReply(issuance.Address)

	default:
		reply = NotSupportedReply
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	id, err := d.cfg.Messenger.Publish(
		pubCtx, ev.PubKey, reply, nostr.Tag{"e", ev.ID},
	)
	if err != nil {
		log.Errorf("Unable to reply to %v: %v", ev.ID, err)
		return
	}

	log.Debugf("Replied to %v with %v", ev.ID, id)
}

// firstSeen records the id and returns true if it was not handled before.
func (d *Dispatcher) firstSeen(id string) bool {
	_, err := d.seen.Get(id)
	if !errors.Is(err, cache.ErrElementNotFound) {
		return false
	}
	_, _ = d.seen.Put(id, seenEvent{})

	return true
}

// allow takes a token from the sender's bucket.
func (d *Dispatcher) allow(sender string) bool {
	if d.limiters == nil {
		return true
	}

	l, err := d.limiters.Get(sender)
	if err != nil {
		l = limiter{rate.NewLimiter(
			rate.Limit(d.cfg.RateLimit.Rate),
			d.cfg.RateLimit.Burst,
		)}
		_, _ = d.limiters.Put(sender, l)
	}

	return l.AllowN(d.cfg.Clock.Now(), 1)
}
