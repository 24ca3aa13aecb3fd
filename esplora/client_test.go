package esplora

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockAPI serves the subset of the Esplora API the client uses.
type mockAPI struct {
	*httptest.Server

	// txCounts maps an address to its chain and mempool tx counts.
	txCounts map[string][2]int

	// failures is the number of requests to answer with an error
	// status before serving normally.
	failures atomic.Int32

	// failStatus is the status of failed requests, 503 if unset.
	failStatus atomic.Int32

	requests atomic.Int32
}

func newMockAPI(t *testing.T) *mockAPI {
	t.Helper()

	api := &mockAPI{txCounts: make(map[string][2]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter,
		_ *http.Request) {

		if api.fail(w) {
			return
		}
		fmt.Fprint(w, "840000")
	})
	mux.HandleFunc("/address/", func(w http.ResponseWriter,
		r *http.Request) {

		if api.fail(w) {
			return
		}

		addr := r.URL.Path[len("/address/"):]
		counts := api.txCounts[addr]
		fmt.Fprintf(w, `{"address":%q,"chain_stats":{"tx_count":%d,`+
			`"funded_txo_count":%d},"mempool_stats":`+
			`{"tx_count":%d}}`, addr, counts[0], counts[0],
			counts[1])
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)

	return api
}

func (m *mockAPI) fail(w http.ResponseWriter) bool {
	m.requests.Add(1)

	if m.failures.Load() <= 0 {
		return false
	}
	m.failures.Add(-1)

	status := int(m.failStatus.Load())
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, "overloaded", status)

	return true
}

func newTestClient(t *testing.T, api *mockAPI) *Client {
	t.Helper()

	client := NewClient(&ClientConfig{
		URL:            api.URL + "/",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
	})
	require.NoError(t, client.Start())
	t.Cleanup(func() {
		require.NoError(t, client.Stop())
	})

	return client
}

// TestClientTipHeight asserts that the client reads the tip height on start.
func TestClientTipHeight(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)
	client := newTestClient(t, api)

	require.EqualValues(t, 840000, client.BestHeight())
	require.NoError(t, client.IsConnected(context.Background()))
}

// TestOracleIsUnused asserts that both confirmed and unconfirmed activity
// mark an address as used.
func TestOracleIsUnused(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)
	api.txCounts["confirmed"] = [2]int{3, 0}
	api.txCounts["mempool"] = [2]int{0, 1}

	oracle := NewOracle(newTestClient(t, api))
	ctx := context.Background()

	tests := []struct {
		addr   string
		unused bool
	}{
		{addr: "fresh", unused: true},
		{addr: "confirmed", unused: false},
		{addr: "mempool", unused: false},
	}
	for _, test := range tests {
		unused, err := oracle.IsUnused(ctx, test.addr)
		require.NoError(t, err, test.addr)
		require.Equal(t, test.unused, unused, test.addr)
	}
}

// TestOracleErrorStatus asserts that an error status that outlasts the
// retries is reported as an error and not as an unused address.
func TestOracleErrorStatus(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)
	oracle := NewOracle(newTestClient(t, api))

	api.failures.Store(3)
	_, err := oracle.IsUnused(context.Background(), "fresh")
	require.ErrorContains(t, err, "status 503")
	require.ErrorContains(t, err, "after 3 attempts")

	unused, err := oracle.IsUnused(context.Background(), "fresh")
	require.NoError(t, err)
	require.True(t, unused)
}

// TestClientRetriesStatus asserts that rate limiting and server errors are
// retried while other error statuses are not.
func TestClientRetriesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		failures int32
		expErr   string
		expCalls int32
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			failures: 2,
			expCalls: 3,
		},
		{
			name:     "bad gateway",
			status:   http.StatusBadGateway,
			failures: 1,
			expCalls: 2,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			failures: 1,
			expErr:   "status 400",
			expCalls: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			api := newMockAPI(t)
			client := newTestClient(t, api)
			api.requests.Store(0)

			api.failStatus.Store(int32(test.status))
			api.failures.Store(test.failures)

			_, err := client.GetAddressInfo(
				context.Background(), "fresh",
			)
			if test.expErr != "" {
				require.ErrorContains(t, err, test.expErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, test.expCalls, api.requests.Load())
		})
	}
}

// TestClientUnreachable asserts that connection failures are retried and then
// reported, but do not fail Start.
func TestClientUnreachable(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)
	url := api.URL
	api.Close()

	client := NewClient(&ClientConfig{
		URL:            url,
		RequestTimeout: time.Second,
		MaxRetries:     1,
	})
	// An unreachable API does not keep the client from starting.
	require.NoError(t, client.Start())
	defer client.Stop()
	require.Zero(t, client.BestHeight())

	err := client.IsConnected(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorContains(t, err, "after 2 attempts")
}

// TestClientStopped asserts that requests fail once the client is stopped.
func TestClientStopped(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)
	client := newTestClient(t, api)
	require.NoError(t, client.Stop())

	_, err := client.GetAddressInfo(context.Background(), "fresh")
	require.ErrorIs(t, err, ErrClientShutdown)
}

// TestClientDial asserts that a custom dialer carries every request.
func TestClientDial(t *testing.T) {
	t.Parallel()

	api := newMockAPI(t)

	var dials atomic.Int32
	dialer := &net.Dialer{}
	client := NewClient(&ClientConfig{
		URL:            api.URL,
		RequestTimeout: 5 * time.Second,
		Dial: func(ctx context.Context, network,
			addr string) (net.Conn, error) {

			dials.Add(1)
			return dialer.DialContext(ctx, network, addr)
		},
	})
	require.NoError(t, client.Start())
	defer client.Stop()

	require.Positive(t, dials.Load())
}
