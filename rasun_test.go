package rasun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/rasun/rasun/addrgen"
	"github.com/rasun/rasun/dispatch"
	"github.com/rasun/rasun/nostrnet"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

// mockOracle reports the addresses marked as used, or fails while down.
type mockOracle struct {
	mtx  sync.Mutex
	used map[string]bool
	down bool
}

func (m *mockOracle) IsUnused(_ context.Context, addr string) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.down {
		return false, errors.New("esplora unreachable")
	}

	return !m.used[addr], nil
}

func (m *mockOracle) setDown(down bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.down = down
}

func (m *mockOracle) markUsed(addr string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.used[addr] = true
}

// wallet asks the service for addresses over the network.
type wallet struct {
	t       *testing.T
	client  *nostrnet.Client
	service string
	inbox   <-chan nostrnet.Incoming
}

func newWallet(t *testing.T, net nostrnet.Transport, clk clock.Clock,
	service string) *wallet {

	t.Helper()

	id, err := nostrnet.NewIdentity()
	require.NoError(t, err)

	client := nostrnet.NewClient(id, net, clk)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	inbox, err := client.Subscribe(ctx, client.InboxFilter(nil))
	require.NoError(t, err)

	return &wallet{
		t:       t,
		client:  client,
		service: service,
		inbox:   inbox,
	}
}

func (w *wallet) send() {
	w.t.Helper()

	_, err := w.client.Publish(
		context.Background(), w.service, "AddrReq",
	)
	require.NoError(w.t, err)
}

func (w *wallet) expectNoReply(wait time.Duration) {
	w.t.Helper()

	select {
	case msg := <-w.inbox:
		w.t.Fatalf("unexpected reply: %q", msg.Plaintext)

	case <-time.After(wait):
	}
}

func (w *wallet) requestAddress() string {
	w.t.Helper()

	w.send()

	select {
	case msg := <-w.inbox:
		require.NoError(w.t, msg.Err)

		addr, ok := dispatch.ParseAddressReply(msg.Plaintext)
		require.True(w.t, ok, msg.Plaintext)

		return addr

	case <-time.After(5 * time.Second):
		w.t.Fatalf("no reply from service")
	}

	return ""
}

// TestServiceRestart asserts that addresses are reused while unused, that
// new ones are allocated in order, and that a restarted service continues
// from the history kept on the recovery relays.
func TestServiceRestart(t *testing.T) {
	raw := newTestConfig(t)
	raw.AddressNetwork = "r"
	raw.Esplora.URL = "http://127.0.0.1:3002"
	raw.GapLimit = 0

	cfg, err := ValidateConfig(raw)
	require.NoError(t, err)

	deriver, err := addrgen.NewDeriver(
		cfg.ExtendedPublicKey, cfg.Path, cfg.NetParams,
	)
	require.NoError(t, err)
	addrAt := func(i uint32) string {
		addr, err := deriver.AddressAt(i)
		require.NoError(t, err)

		return addr
	}

	net := nostrnet.NewMemNetwork()
	clk := clock.NewTestClock(testTime)
	oracle := &mockOracle{used: make(map[string]bool)}
	service := cfg.Identity.PubKey()

	ctx := context.Background()
	svc, err := newService(ctx, cfg, net, net, oracle, clk)
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	alice := newWallet(t, net, clk, service)
	bob := newWallet(t, net, clk, service)

	require.Equal(t, addrAt(0), alice.requestAddress())
	require.Equal(t, addrAt(0), alice.requestAddress())
	require.Equal(t, addrAt(1), bob.requestAddress())

	oracle.markUsed(addrAt(0))
	require.Equal(t, addrAt(2), alice.requestAddress())
	require.Equal(t, 3, svc.issuanceLog.Len())

	require.NoError(t, svc.Stop())

	// Restart later on, with an empty memory.
	clk.SetTime(testTime.Add(time.Minute))

	svc, err = newService(ctx, cfg, net, net, oracle, clk)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		require.NoError(t, svc.Stop())
	})

	require.Equal(t, 3, svc.issuanceLog.Len())
	require.Equal(t, addrAt(2), alice.requestAddress())
	require.Equal(t, addrAt(1), bob.requestAddress())

	carol := newWallet(t, net, clk, service)
	require.Equal(t, addrAt(3), carol.requestAddress())
}

// TestServiceOracleOutage asserts that requests go unanswered while the
// activity oracle is down, and are served again once it is back.
func TestServiceOracleOutage(t *testing.T) {
	raw := newTestConfig(t)
	raw.AddressNetwork = "r"
	raw.Esplora.URL = "http://127.0.0.1:3002"
	raw.GapLimit = 0
	raw.Oracle.Attempts = 1

	cfg, err := ValidateConfig(raw)
	require.NoError(t, err)

	deriver, err := addrgen.NewDeriver(
		cfg.ExtendedPublicKey, cfg.Path, cfg.NetParams,
	)
	require.NoError(t, err)
	addrAt := func(i uint32) string {
		addr, err := deriver.AddressAt(i)
		require.NoError(t, err)

		return addr
	}

	net := nostrnet.NewMemNetwork()
	clk := clock.NewTestClock(testTime)
	oracle := &mockOracle{used: make(map[string]bool)}
	service := cfg.Identity.PubKey()

	svc, err := newService(context.Background(), cfg, net, net, oracle, clk)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(func() {
		require.NoError(t, svc.Stop())
	})

	alice := newWallet(t, net, clk, service)
	require.Equal(t, addrAt(0), alice.requestAddress())

	// Whether the address was used is unknown, so nothing is answered and
	// nothing is allocated.
	oracle.setDown(true)
	alice.send()
	alice.expectNoReply(300 * time.Millisecond)
	require.Equal(t, 1, svc.issuanceLog.Len())

	oracle.setDown(false)
	require.Equal(t, addrAt(0), alice.requestAddress())

	bob := newWallet(t, net, clk, service)
	require.Equal(t, addrAt(1), bob.requestAddress())
}

// fakePool reports a fixed number of connected relays.
type fakePool int

func (f fakePool) ConnectedCount() int {
	return int(f)
}

func TestCheckPools(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkPools(map[string]fakePool{
		"response": 1,
		"recovery": 3,
	}))

	err := checkPools(map[string]fakePool{
		"response": 2,
		"recovery": 0,
	})
	require.ErrorIs(t, err, nostrnet.ErrNoRelayReachable)
	require.ErrorContains(t, err, "recovery relays")
}
