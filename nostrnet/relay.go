package nostrnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/nbd-wtf/go-nostr"
)

const (
	// pingInterval is the interval at which we ping a relay to keep the
	// connection alive and detect dead sockets.
	pingInterval = 30 * time.Second

	// pongWait is the maximum time we wait for a pong response.
	pongWait = 10 * time.Second

	// writeWait is the time allowed to write a single message.
	writeWait = 10 * time.Second

	// maxMessageSize is the largest message we accept from a relay.
	maxMessageSize = 1 << 20

	// subscriptionBuffer is the number of events buffered per
	// subscription before the read loop blocks.
	subscriptionBuffer = 64
)

var (
	// ErrRelayNotConnected is returned when an operation needs a live
	// connection and the relay currently has none.
	ErrRelayNotConnected = errors.New("relay not connected")

	// ErrRelayShutdown is returned once the relay client is stopped.
	ErrRelayShutdown = errors.New("relay client shutting down")

	// ErrEventRejected is returned when a relay answers a published event
	// with a negative OK.
	ErrEventRejected = errors.New("event rejected by relay")
)

// DialFunc opens the TCP connection underneath a websocket, e.g. through a
// SOCKS proxy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn,
	error)

// RelayConfig holds the connection options of a single relay.
type RelayConfig struct {
	// URL is the websocket URL of the relay.
	URL string

	// Dial, if set, opens the underlying TCP connection.
	Dial DialFunc

	// ConnectTimeout bounds the websocket handshake.
	ConnectTimeout time.Duration

	// MinBackoff is the delay before the first reconnection attempt.
	MinBackoff time.Duration

	// MaxBackoff caps the delay between reconnection attempts.
	MaxBackoff time.Duration
}

// okResult is a relay's answer to a published event.
type okResult struct {
	accepted bool
	reason   string
}

// connState is a single websocket connection. done is closed once the
// connection is gone.
type connState struct {
	conn *websocket.Conn
	done chan struct{}

	// writeMtx serializes data frames. Control frames may be written
	// concurrently.
	writeMtx sync.Mutex
}

func (c *connState) writeEnvelope(env nostr.Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// RelaySubscription is a REQ on a single relay. It survives reconnections:
// the REQ is sent again every time the connection comes back.
type RelaySubscription struct {
	id      string
	filters nostr.Filters

	events   chan *nostr.Event
	eose     chan struct{}
	eoseOnce sync.Once
	done     chan struct{}
}

// Events returns the stream of events matching the subscription.
func (s *RelaySubscription) Events() <-chan *nostr.Event {
	return s.events
}

// EndOfStored is closed once the relay signaled that all stored events have
// been sent.
func (s *RelaySubscription) EndOfStored() <-chan struct{} {
	return s.eose
}

// Relay is a client for a single nostr relay. It keeps a websocket open,
// reconnecting with exponential backoff whenever it drops.
type Relay struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *RelayConfig

	dialer *websocket.Dialer

	connMtx   sync.Mutex
	current   *connState
	connected chan struct{}

	subMtx    sync.Mutex
	subs      map[string]*RelaySubscription
	subCount  atomic.Uint64
	okMtx     sync.Mutex
	pendingOK map[string]chan okResult

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewRelay creates a relay client. No connection is made until Start is
// called.
func NewRelay(cfg *RelayConfig) *Relay {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		NetDialContext:   cfg.Dial,
	}

	return &Relay{
		cfg:       cfg,
		dialer:    dialer,
		connected: make(chan struct{}),
		subs:      make(map[string]*RelaySubscription),
		pendingOK: make(map[string]chan okResult),
		quit:      make(chan struct{}),
	}
}

// URL returns the URL of the relay.
func (r *Relay) URL() string {
	return r.cfg.URL
}

// Start launches the connection manager.
func (r *Relay) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	r.wg.Add(1)
	go r.connectionManager()

	return nil
}

// Connect starts the relay client if needed and waits for the connection to
// come up.
func (r *Relay) Connect(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}

	r.connMtx.Lock()
	connected := r.connected
	r.connMtx.Unlock()

	select {
	case <-connected:
		return nil

	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrRelayNotConnected, ctx.Err())

	case <-r.quit:
		return ErrRelayShutdown
	}
}

// IsConnected returns true if the relay has a live connection.
func (r *Relay) IsConnected() bool {
	r.connMtx.Lock()
	defer r.connMtx.Unlock()

	return r.current != nil
}

// Stop closes the connection and stops reconnecting.
func (r *Relay) Stop() error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(r.quit)

	r.connMtx.Lock()
	if r.current != nil {
		_ = r.current.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(
				websocket.CloseNormalClosure, "",
			),
			time.Now().Add(writeWait),
		)
		_ = r.current.conn.Close()
	}
	r.connMtx.Unlock()

	r.wg.Wait()

	return nil
}

// connectionManager dials the relay, runs the read loop while connected and
// redials with exponential backoff once the connection drops.
//
// NOTE: MUST be run as a goroutine.
func (r *Relay) connectionManager() {
	defer r.wg.Done()

	backoff := r.cfg.MinBackoff
	for {
		cs, err := r.dial()
		if err == nil {
			log.Infof("Connected to relay %v", r.cfg.URL)
			backoff = r.cfg.MinBackoff

			r.setConn(cs)
			r.resubscribe(cs)

			err = r.readLoop(cs)
			r.clearConn(cs)
		}

		select {
		case <-r.quit:
			return
		default:
		}

		log.Warnf("Relay %v unavailable, retrying in %v: %v",
			r.cfg.URL, backoff, err)

		select {
		case <-time.After(backoff):
		case <-r.quit:
			return
		}

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
}

func (r *Relay) dial() (*connState, error) {
	ctx, cancel := context.WithTimeout(
		context.Background(), r.cfg.ConnectTimeout,
	)
	defer cancel()

	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	return &connState{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

func (r *Relay) setConn(cs *connState) {
	r.connMtx.Lock()
	defer r.connMtx.Unlock()

	r.current = cs
	close(r.connected)
}

func (r *Relay) clearConn(cs *connState) {
	r.connMtx.Lock()
	defer r.connMtx.Unlock()

	_ = cs.conn.Close()
	close(cs.done)
	r.current = nil
	r.connected = make(chan struct{})
}

func (r *Relay) conn() (*connState, error) {
	r.connMtx.Lock()
	defer r.connMtx.Unlock()

	if r.current == nil {
		return nil, ErrRelayNotConnected
	}

	return r.current, nil
}

// resubscribe sends the REQ of every live subscription on a fresh
// connection.
func (r *Relay) resubscribe(cs *connState) {
	r.subMtx.Lock()
	subs := make([]*RelaySubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subMtx.Unlock()

	for _, sub := range subs {
		err := cs.writeEnvelope(&nostr.ReqEnvelope{
			SubscriptionID: sub.id,
			Filters:        sub.filters,
		})
		if err != nil {
			log.Warnf("Unable to resubscribe %v on %v: %v", sub.id,
				r.cfg.URL, err)
		}
	}
}

// readLoop reads and dispatches messages until the connection fails. A ping
// is written every pingInterval and a missing pong fails the connection.
func (r *Relay) readLoop(cs *connState) error {
	_ = cs.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	cs.conn.SetPongHandler(func(string) error {
		return cs.conn.SetReadDeadline(
			time.Now().Add(pingInterval + pongWait),
		)
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		pingTicker := ticker.New(pingInterval)
		pingTicker.Resume()
		defer pingTicker.Stop()

		for {
			select {
			case <-pingTicker.Ticks():
				err := cs.conn.WriteControl(
					websocket.PingMessage, nil,
					time.Now().Add(pongWait),
				)
				if err != nil {
					log.Debugf("Unable to ping %v: %v",
						r.cfg.URL, err)
					return
				}

			case <-cs.done:
				return

			case <-r.quit:
				return
			}
		}
	}()

	for {
		_, msg, err := cs.conn.ReadMessage()
		if err != nil {
			return err
		}

		r.handleMessage(msg)
	}
}

func (r *Relay) handleMessage(msg []byte) {
	switch env := nostr.ParseMessage(msg).(type) {
	case *nostr.EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}

		r.subMtx.Lock()
		sub, ok := r.subs[*env.SubscriptionID]
		r.subMtx.Unlock()
		if !ok {
			return
		}

		ev := env.Event
		select {
		case sub.events <- &ev:
		case <-sub.done:
		case <-r.quit:
		}

	case *nostr.EOSEEnvelope:
		r.subMtx.Lock()
		sub, ok := r.subs[string(*env)]
		r.subMtx.Unlock()
		if ok {
			sub.eoseOnce.Do(func() {
				close(sub.eose)
			})
		}

	case *nostr.OKEnvelope:
		r.okMtx.Lock()
		resultChan, ok := r.pendingOK[env.EventID]
		r.okMtx.Unlock()
		if ok {
			select {
			case resultChan <- okResult{
				accepted: env.OK,
				reason:   env.Reason,
			}:
			default:
			}
		}

	case *nostr.ClosedEnvelope:
		log.Warnf("Relay %v closed subscription %v: %v", r.cfg.URL,
			env.SubscriptionID, env.Reason)

	case *nostr.NoticeEnvelope:
		log.Infof("Notice from %v: %v", r.cfg.URL, string(*env))

	case nil:
		log.Debugf("Unparsable message from %v: %s", r.cfg.URL, msg)
	}
}

// Publish sends the event and waits for the relay's OK.
func (r *Relay) Publish(ctx context.Context, ev *nostr.Event) error {
	cs, err := r.conn()
	if err != nil {
		return err
	}

	resultChan := make(chan okResult, 1)
	r.okMtx.Lock()
	r.pendingOK[ev.ID] = resultChan
	r.okMtx.Unlock()

	defer func() {
		r.okMtx.Lock()
		delete(r.pendingOK, ev.ID)
		r.okMtx.Unlock()
	}()

	if err := cs.writeEnvelope(&nostr.EventEnvelope{Event: *ev}); err != nil {
		return fmt.Errorf("unable to send event: %w", err)
	}

	select {
	case res := <-resultChan:
		if !res.accepted {
			return fmt.Errorf("%w: %v", ErrEventRejected,
				res.reason)
		}

		return nil

	case <-cs.done:
		return ErrRelayNotConnected

	case <-ctx.Done():
		return ctx.Err()

	case <-r.quit:
		return ErrRelayShutdown
	}
}

// Subscribe registers a subscription that lives until the context is
// canceled. If the relay is not connected yet, the REQ is sent as soon as it
// is.
func (r *Relay) Subscribe(ctx context.Context,
	filters nostr.Filters) (*RelaySubscription, error) {

	select {
	case <-r.quit:
		return nil, ErrRelayShutdown
	default:
	}

	sub := &RelaySubscription{
		id:      "rasun:" + strconv.FormatUint(r.subCount.Add(1), 10),
		filters: filters,
		events:  make(chan *nostr.Event, subscriptionBuffer),
		eose:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	r.subMtx.Lock()
	r.subs[sub.id] = sub
	r.subMtx.Unlock()

	if cs, err := r.conn(); err == nil {
		err := cs.writeEnvelope(&nostr.ReqEnvelope{
			SubscriptionID: sub.id,
			Filters:        filters,
		})
		if err != nil {
			log.Warnf("Unable to subscribe on %v: %v", r.cfg.URL,
				err)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-ctx.Done():
		case <-r.quit:
		}

		r.unsubscribe(sub)
	}()

	return sub, nil
}

func (r *Relay) unsubscribe(sub *RelaySubscription) {
	r.subMtx.Lock()
	delete(r.subs, sub.id)
	r.subMtx.Unlock()

	close(sub.done)

	cs, err := r.conn()
	if err != nil {
		return
	}

	closeEnv := nostr.CloseEnvelope(sub.id)
	if err := cs.writeEnvelope(&closeEnv); err != nil {
		log.Debugf("Unable to close subscription %v on %v: %v",
			sub.id, r.cfg.URL, err)
	}
}
