package nostrnet

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

func newTestClient(t *testing.T, net Transport) *Client {
	t.Helper()

	id, err := NewIdentity()
	require.NoError(t, err)

	return NewClient(id, net, clock.NewTestClock(testTime))
}

func receive(t *testing.T, msgs <-chan Incoming) Incoming {
	t.Helper()

	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "subscription closed")
		return msg

	case <-time.After(5 * time.Second):
		t.Fatalf("no message received")
	}

	return Incoming{}
}

// TestClientDirectMessages asserts that a message published by one identity
// is decrypted by the recipient and carries the extra tags.
func TestClientDirectMessages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := NewMemNetwork()
	alice := newTestClient(t, net)
	bob := newTestClient(t, net)

	inbox, err := bob.Subscribe(ctx, bob.InboxFilter(nil))
	require.NoError(t, err)

	id, err := alice.Publish(
		ctx, bob.Identity().PubKey(), "hello bob",
		nostr.Tag{"e", "abcd"},
	)
	require.NoError(t, err)

	msg := receive(t, inbox)
	require.NoError(t, msg.Err)
	require.Equal(t, id, msg.Event.ID)
	require.Equal(t, "hello bob", msg.Plaintext)
	require.Equal(t, alice.Identity().PubKey(), msg.Counterparty)
	require.Equal(t, nostr.Timestamp(testTime.Unix()), msg.Event.CreatedAt)
	require.NotNil(t, msg.Event.Tags.GetFirst([]string{"e", "abcd"}))
}

// TestClientNoteToSelf asserts that messages addressed to ourselves are found
// in the history and decrypted.
func TestClientNoteToSelf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := NewMemNetwork()
	alice := newTestClient(t, net)
	bob := newTestClient(t, net)

	_, err := alice.Publish(ctx, alice.Identity().PubKey(), "note 1")
	require.NoError(t, err)
	_, err = alice.Publish(ctx, bob.Identity().PubKey(), "not a note")
	require.NoError(t, err)
	_, err = bob.Publish(ctx, bob.Identity().PubKey(), "bob's note")
	require.NoError(t, err)

	msgs, err := alice.FetchHistory(ctx, alice.NoteToSelfFilter())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, msgs[0].Err)
	require.Equal(t, "note 1", msgs[0].Plaintext)
	require.Equal(t, alice.Identity().PubKey(), msgs[0].Counterparty)
}

// TestClientUndecryptable asserts that a broken message is surfaced with an
// error and does not hold back the following one.
func TestClientUndecryptable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := NewMemNetwork()
	alice := newTestClient(t, net)
	bob := newTestClient(t, net)

	inbox, err := bob.Subscribe(ctx, bob.InboxFilter(nil))
	require.NoError(t, err)

	// A correctly signed event whose content is not NIP-04 ciphertext.
	bad := nostr.Event{
		PubKey:    alice.Identity().PubKey(),
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", bob.Identity().PubKey()}},
		Content:   "definitely not encrypted",
	}
	require.NoError(t, bad.Sign(alice.Identity().secret))
	require.NoError(t, net.Publish(ctx, &bad))

	// A forged event: valid layout, signature over different content.
	forged := bad
	forged.Content = "tampered"
	forged.ID = forged.GetID()
	net.Inject(&forged)

	_, err = alice.Publish(ctx, bob.Identity().PubKey(), "second")
	require.NoError(t, err)

	first := receive(t, inbox)
	require.ErrorIs(t, first.Err, ErrDecrypt)

	second := receive(t, inbox)
	require.ErrorIs(t, second.Err, ErrBadSignature)

	third := receive(t, inbox)
	require.NoError(t, third.Err)
	require.Equal(t, "second", third.Plaintext)
}

// TestMemNetworkPublishError asserts that an injected failure is returned to
// the publisher and nothing is stored.
func TestMemNetworkPublishError(t *testing.T) {
	t.Parallel()

	net := NewMemNetwork()
	alice := newTestClient(t, net)

	net.SetPublishError(ErrPublishFailed)
	_, err := alice.Publish(
		context.Background(), alice.Identity().PubKey(), "lost",
	)
	require.ErrorIs(t, err, ErrPublishFailed)
	require.Empty(t, net.Events())
}

// unfilteredTransport hands out every event it has, whatever the filter.
type unfilteredTransport struct {
	*MemNetwork
}

func (u unfilteredTransport) Subscribe(ctx context.Context,
	_ nostr.Filters) (<-chan *nostr.Event, error) {

	return u.MemNetwork.Subscribe(ctx, nostr.Filters{{}})
}

func (u unfilteredTransport) Query(ctx context.Context,
	_ nostr.Filters) ([]*nostr.Event, error) {

	return u.MemNetwork.Query(ctx, nostr.Filters{{}})
}

// TestClientEnforcesFilter asserts that events a transport returns outside
// of the requested filter never reach the caller.
func TestClientEnforcesFilter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := NewMemNetwork()
	alice := newTestClient(t, net)
	carol := newTestClient(t, net)
	bob := NewClient(
		newTestClient(t, net).Identity(), unfilteredTransport{net},
		clock.NewTestClock(testTime),
	)

	inbox, err := bob.Subscribe(ctx, bob.InboxFilter(nil))
	require.NoError(t, err)

	_, err = alice.Publish(ctx, carol.Identity().PubKey(), "for carol")
	require.NoError(t, err)
	_, err = alice.Publish(ctx, bob.Identity().PubKey(), "for bob")
	require.NoError(t, err)

	msg := receive(t, inbox)
	require.NoError(t, msg.Err)
	require.Equal(t, "for bob", msg.Plaintext)

	history, err := bob.FetchHistory(ctx, bob.NoteToSelfFilter())
	require.NoError(t, err)
	require.Empty(t, history)
}
