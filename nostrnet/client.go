package nostrnet

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/nbd-wtf/go-nostr"
)

// ErrBadSignature is returned for events whose signature does not verify.
var ErrBadSignature = errors.New("invalid event signature")

// Incoming is a received direct message. Err is set if the event could not be
// verified or decrypted, in which case Plaintext is empty.
type Incoming struct {
	// Event is the raw event.
	Event *nostr.Event

	// Counterparty is the public key of the other side: the author for
	// messages sent to us, the recipient for messages we sent.
	Counterparty string

	// Plaintext is the decrypted content.
	Plaintext string

	// Err is the verification or decryption failure, if any.
	Err error
}

// Client sends and receives NIP-04 encrypted direct messages as a single
// identity over a Transport.
type Client struct {
	id        *Identity
	cipher    *cipher
	transport Transport
	clock     clock.Clock
}

// NewClient binds an identity to a transport.
func NewClient(id *Identity, transport Transport, clk clock.Clock) *Client {
	return &Client{
		id:        id,
		cipher:    newCipher(id),
		transport: transport,
		clock:     clk,
	}
}

// Identity returns the identity the client acts as.
func (c *Client) Identity() *Identity {
	return c.id
}

// InboxFilter matches the direct messages addressed to us. A non-nil since
// limits it to messages created at or after that time.
func (c *Client) InboxFilter(since *nostr.Timestamp) nostr.Filter {
	return nostr.Filter{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  nostr.TagMap{"p": []string{c.id.pubKey}},
		Since: since,
	}
}

// NoteToSelfFilter matches the direct messages we addressed to ourselves.
func (c *Client) NoteToSelfFilter() nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{nostr.KindEncryptedDirectMessage},
		Authors: []string{c.id.pubKey},
		Tags:    nostr.TagMap{"p": []string{c.id.pubKey}},
	}
}

// Publish encrypts plaintext for recipient, signs the event and publishes it.
// Extra tags are appended after the recipient tag. The event id is returned.
func (c *Client) Publish(ctx context.Context, recipient, plaintext string,
	tags ...nostr.Tag) (string, error) {

	content, err := c.cipher.encrypt(recipient, plaintext)
	if err != nil {
		return "", fmt.Errorf("unable to encrypt message: %w", err)
	}

	ev := nostr.Event{
		PubKey:    c.id.pubKey,
		CreatedAt: nostr.Timestamp(c.clock.Now().Unix()),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      append(nostr.Tags{{"p", recipient}}, tags...),
		Content:   content,
	}
	if err := ev.Sign(c.id.secret); err != nil {
		return "", fmt.Errorf("unable to sign event: %w", err)
	}

	if err := c.transport.Publish(ctx, &ev); err != nil {
		return "", err
	}

	log.Tracef("Published direct message %v to %v", ev.ID, recipient)

	return ev.ID, nil
}

// Subscribe streams the direct messages matching the filter until the context
// is canceled. Messages that fail verification or decryption are delivered
// with Err set. Events not matching the filter are dropped.
func (c *Client) Subscribe(ctx context.Context,
	filter nostr.Filter) (<-chan Incoming, error) {

	events, err := c.transport.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}

	out := make(chan Incoming)
	go func() {
		defer close(out)

		for ev := range events {
			if !filter.Matches(ev) {
				log.Debugf("Dropping event %v not matching "+
					"the subscription filter", ev.ID)
				continue
			}

			select {
			case out <- c.open(ev):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// FetchHistory returns the stored direct messages matching the filter. Events
// the transport returns that do not match are dropped.
func (c *Client) FetchHistory(ctx context.Context,
	filter nostr.Filter) ([]Incoming, error) {

	events, err := c.transport.Query(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}

	// Relays are not trusted to apply the filter.
	msgs := make([]Incoming, 0, len(events))
	for _, ev := range events {
		if !filter.Matches(ev) {
			log.Debugf("Dropping stored event %v not matching the "+
				"filter", ev.ID)
			continue
		}
		msgs = append(msgs, c.open(ev))
	}

	return msgs, nil
}

// open verifies and decrypts a direct message.
func (c *Client) open(ev *nostr.Event) Incoming {
	msg := Incoming{
		Event:        ev,
		Counterparty: ev.PubKey,
	}

	if ok, err := ev.CheckSignature(); !ok {
		msg.Err = fmt.Errorf("%w: %v", ErrBadSignature, err)
		return msg
	}

	// For our own messages the other side is the recipient.
	if ev.PubKey == c.id.pubKey {
		tag := ev.Tags.GetFirst([]string{"p", ""})
		if tag == nil {
			msg.Err = fmt.Errorf("%w: missing recipient tag",
				ErrDecrypt)
			return msg
		}
		msg.Counterparty = tag.Value()
	}

	plaintext, err := c.cipher.decrypt(msg.Counterparty, ev.Content)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Plaintext = plaintext

	return msg
}
