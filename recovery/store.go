package recovery

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rasun/rasun/nostrnet"
)

// Entry is a raw entry of the recovery history.
type Entry struct {
	// ID identifies the entry within its store.
	ID string

	// Plaintext is the decrypted content of the entry.
	Plaintext string

	// Err is set if the entry could not be opened.
	Err error
}

// Store is an append-only backend for the recovery log.
type Store interface {
	// Fetch returns every entry written so far.
	Fetch(ctx context.Context) ([]Entry, error)

	// Append writes a new entry.
	Append(ctx context.Context, plaintext string) error
}

// NetworkStore keeps the recovery history as encrypted direct messages from
// the service identity to itself on the recovery relays.
type NetworkStore struct {
	client *nostrnet.Client

	fetchTimeout   time.Duration
	publishTimeout time.Duration
}

// A compile-time check to ensure NetworkStore satisfies the Store interface.
var _ Store = (*NetworkStore)(nil)

// NewNetworkStore creates a store over a client bound to the recovery relays.
func NewNetworkStore(client *nostrnet.Client, fetchTimeout,
	publishTimeout time.Duration) *NetworkStore {

	return &NetworkStore{
		client:         client,
		fetchTimeout:   fetchTimeout,
		publishTimeout: publishTimeout,
	}
}

// Fetch returns every note to self found on the recovery relays.
func (n *NetworkStore) Fetch(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()

	msgs, err := n.client.FetchHistory(ctx, n.client.NoteToSelfFilter())
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{
			ID:        msg.Event.ID,
			Plaintext: msg.Plaintext,
			Err:       msg.Err,
		})
	}

	return entries, nil
}

// Append publishes the plaintext as a note to self.
func (n *NetworkStore) Append(ctx context.Context, plaintext string) error {
	ctx, cancel := context.WithTimeout(ctx, n.publishTimeout)
	defer cancel()

	self := n.client.Identity().PubKey()
	id, err := n.client.Publish(ctx, self, plaintext)
	if err != nil {
		return err
	}

	log.Debugf("Recovery entry %v published", id)

	return nil
}

// MemStore is an in-memory Store.
type MemStore struct {
	mtx       sync.Mutex
	entries   []Entry
	appendErr error
}

// A compile-time check to ensure MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// NewMemStore returns a store holding the given plaintexts.
func NewMemStore(plaintexts ...string) *MemStore {
	m := &MemStore{}
	for _, p := range plaintexts {
		m.add(Entry{Plaintext: p})
	}

	return m
}

// AddBroken adds an entry that failed to open with err.
func (m *MemStore) AddBroken(err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.add(Entry{Err: err})
}

// SetAppendError makes every following Append fail with err.
func (m *MemStore) SetAppendError(err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.appendErr = err
}

// Fetch returns a copy of the stored entries.
func (m *MemStore) Fetch(context.Context) ([]Entry, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)

	return entries, nil
}

// Append stores the plaintext.
func (m *MemStore) Append(_ context.Context, plaintext string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}
	m.add(Entry{Plaintext: plaintext})

	return nil
}

func (m *MemStore) add(e Entry) {
	e.ID = strconv.Itoa(len(m.entries))
	m.entries = append(m.entries, e)
}
