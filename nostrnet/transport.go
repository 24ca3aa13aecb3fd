package nostrnet

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrNoRelays is returned when a pool is created without any relay
	// URL.
	ErrNoRelays = errors.New("no relays configured")

	// ErrNoRelayReachable is returned when none of the relays of a pool
	// could be reached.
	ErrNoRelayReachable = errors.New("no relay reachable")

	// ErrPublishFailed is returned when no relay accepted a published
	// event.
	ErrPublishFailed = errors.New("event not accepted by any relay")
)

// Transport moves signed events between us and the nostr network.
type Transport interface {
	// Publish sends the event and returns once at least one relay has
	// accepted it.
	Publish(ctx context.Context, ev *nostr.Event) error

	// Subscribe streams every event matching the filters, stored or live,
	// until the context is canceled. The returned channel is closed once
	// the subscription ends. Each event is delivered at most once.
	Subscribe(ctx context.Context,
		filters nostr.Filters) (<-chan *nostr.Event, error)

	// Query returns the stored events matching the filters.
	Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event,
		error)
}
