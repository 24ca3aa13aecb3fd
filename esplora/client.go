package esplora

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClientShutdown is returned when the client has been shut down.
	ErrClientShutdown = errors.New("esplora client has been shut down")

	// ErrNotConnected is returned when the API is not reachable.
	ErrNotConnected = errors.New("esplora API not reachable")
)

const (
	// retryBaseDelay is the delay before the first retry. Each further
	// attempt waits one more multiple of it.
	retryBaseDelay = 100 * time.Millisecond

	// maxErrorBody caps how much of an error response ends up in errors.
	maxErrorBody = 512
)

// DialFunc is the signature of the function used to open outbound TCP
// connections, e.g. through a SOCKS proxy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn,
	error)

// ClientConfig holds the configuration for the Esplora client.
type ClientConfig struct {
	// URL is the base URL of the Esplora API (e.g.,
	// https://mempool.space/signet/api).
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed requests.
	MaxRetries int

	// Dial, if set, is used for every outbound connection instead of the
	// default dialer.
	Dial DialFunc
}

// TxStats holds the funded and spent counters the API reports for an
// address, either for the chain or for the mempool.
type TxStats struct {
	FundedTxoCount int   `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int   `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int   `json:"tx_count"`
}

// AddressInfo represents the address summary returned by the API.
type AddressInfo struct {
	Address      string  `json:"address"`
	ChainStats   TxStats `json:"chain_stats"`
	MempoolStats TxStats `json:"mempool_stats"`
}

// TxCount returns the number of confirmed and unconfirmed transactions that
// touched the address.
func (a *AddressInfo) TxCount() int {
	return a.ChainStats.TxCount + a.MempoolStats.TxCount
}

// Client is an HTTP client for the Esplora REST API.
type Client struct {
	cfg *ClientConfig

	httpClient *http.Client

	// started indicates whether the client has been started.
	started atomic.Bool

	// bestBlockMtx protects the last seen tip height.
	bestBlockMtx    sync.RWMutex
	bestBlockHeight int64

	quit     chan struct{}
	quitOnce sync.Once
}

// NewClient creates a new Esplora client with the given configuration.
func NewClient(cfg *ClientConfig) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Dial != nil {
		transport.Proxy = nil
		transport.DialContext = cfg.Dial
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		quit: make(chan struct{}),
	}
}

// Start checks whether the API is reachable and logs the tip height.
func (c *Client) Start() error {
	if c.started.Swap(true) {
		return nil
	}

	log.Infof("Starting Esplora client, url=%s", c.cfg.URL)

	ctx, cancel := context.WithTimeout(
		context.Background(), c.cfg.RequestTimeout,
	)
	defer cancel()

	// Activity checks fail on their own while the API is down, so an
	// outage at startup is not fatal.
	height, err := c.GetTipHeight(ctx)
	if err != nil {
		log.Warnf("Esplora API not reachable yet: %v", err)
		return nil
	}

	log.Infof("Connected to Esplora API: tip height=%d", height)

	return nil
}

// Stop shuts down the client. In-flight requests are abandoned between
// retries.
func (c *Client) Stop() error {
	if !c.started.Load() {
		return nil
	}

	log.Info("Stopping Esplora client")

	c.quitOnce.Do(func() {
		close(c.quit)
	})
	c.httpClient.CloseIdleConnections()

	return nil
}

// IsConnected returns nil if the API answers a tip height request within the
// request timeout.
func (c *Client) IsConnected(ctx context.Context) error {
	if _, err := c.GetTipHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return nil
}

// retryableStatus reports whether a response status is worth another attempt.
// Public instances answer 429 when rate limiting.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// statusError drains and closes the body of a failed response.
func statusError(resp *http.Response) error {
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	return fmt.Errorf("API returned status %d: %s", resp.StatusCode,
		strings.TrimSpace(string(body)))
}

// retryDelay returns how long to wait before the given attempt. A Retry-After
// header given in seconds takes precedence.
func retryDelay(attempt int, resp *http.Response) time.Duration {
	delay := time.Duration(attempt+1) * retryBaseDelay
	if resp == nil {
		return delay
	}

	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	return delay
}

// doRequest performs an HTTP request with retries. Transport errors, 429 and
// 5xx responses are retried.
func (c *Client) doRequest(ctx context.Context, method,
	path string) (*http.Response, error) {

	url := strings.TrimSuffix(c.cfg.URL, "/") + path

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.quit:
			return nil, ErrClientShutdown
		default:
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w",
				err)
		}

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
			resp = nil

		case retryableStatus(resp.StatusCode):
			lastErr = statusError(resp)

		default:
			return resp, nil
		}

		if i == c.cfg.MaxRetries {
			break
		}

		log.Debugf("Esplora request %v failed, attempt %d: %v", path,
			i+1, lastErr)

		select {
		case <-time.After(retryDelay(i, resp)):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.quit:
			return nil, ErrClientShutdown
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w",
		c.cfg.MaxRetries+1, lastErr)
}

// doGet performs a GET request and returns the response body.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// GetTipHeight returns the current blockchain tip height.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	body, err := c.doGet(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}

	c.bestBlockMtx.Lock()
	c.bestBlockHeight = height
	c.bestBlockMtx.Unlock()

	return height, nil
}

// GetAddressInfo fetches the chain and mempool statistics of an address.
func (c *Client) GetAddressInfo(ctx context.Context,
	address string) (*AddressInfo, error) {

	body, err := c.doGet(ctx, "/address/"+address)
	if err != nil {
		return nil, err
	}

	var info AddressInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &info, nil
}

// BestHeight returns the last tip height observed by the client.
func (c *Client) BestHeight() int64 {
	c.bestBlockMtx.RLock()
	defer c.bestBlockMtx.RUnlock()

	return c.bestBlockHeight
}
