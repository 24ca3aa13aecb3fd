package issuer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rasun/rasun/monitoring"
	"github.com/rasun/rasun/recovery"
)

var (
	// ErrOracleUnavailable is returned when the activity of a prior
	// address could not be determined. Nothing is issued in that case.
	ErrOracleUnavailable = errors.New("address activity unknown")

	// ErrAllocatorExiting is returned for requests made while the
	// allocator is shutting down.
	ErrAllocatorExiting = errors.New("allocator exiting")
)

// ActivityOracle reports whether an address has ever been used.
type ActivityOracle interface {
	// IsUnused returns true iff the address has no confirmed or
	// unconfirmed transaction. An error means the answer is unknown.
	IsUnused(ctx context.Context, address string) (bool, error)
}

// AddressDeriver hands out addresses in index order.
type AddressDeriver interface {
	// AddressAt derives the address at the given index.
	AddressAt(index uint32) (string, error)

	// NewAddress returns the address at the cursor and advances it.
	NewAddress() (uint32, string, error)

	// NextUnusedIndex returns the cursor.
	NextUnusedIndex() uint32

	// ResetCursor moves the cursor.
	ResetCursor(index uint32)
}

// Config holds the collaborators and policy of an Allocator.
type Config struct {
	// Deriver derives the addresses to hand out.
	Deriver AddressDeriver

	// Log is the recovery log, already replayed.
	Log *recovery.Log

	// Oracle answers address activity queries.
	Oracle ActivityOracle

	// Clock stamps the issuance records.
	Clock clock.Clock

	// OracleAttempts is the number of times an activity query is tried.
	OracleAttempts int

	// OracleBackoff is the wait before the first retry, doubled on every
	// following retry.
	OracleBackoff time.Duration

	// OracleTimeout bounds a single activity query.
	OracleTimeout time.Duration

	// FirstIndex is the lowest index handed out.
	FirstIndex uint32

	// GapLimit is the maximum number of already used addresses skipped
	// at startup. Zero disables the scan.
	GapLimit uint32
}

// Issuance is the answer to an address request.
type Issuance struct {
	// Address is the address to give to the requester.
	Address string

	// Index is the derivation index of a newly allocated address. It is
	// None when a prior address is reused.
	Index fn.Option[uint32]

	// Reused is true if Address was issued to the requester before and
	// is still unused.
	Reused bool
}

type resolveResponse struct {
	issuance *Issuance
	err      error
}

type resolveRequest struct {
	ctx       context.Context
	requester string
	resp      chan resolveResponse
}

// Allocator decides which address a requester gets. All requests are served
// one at a time by a single goroutine, so the lookup, the activity check, the
// derivation and the record append of one request never interleave with
// another.
type Allocator struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	requests chan *resolveRequest

	gm *fn.GoroutineManager
}

// NewAllocator creates an allocator. Start must be called before Resolve.
func NewAllocator(cfg *Config) *Allocator {
	if cfg.OracleAttempts < 1 {
		cfg.OracleAttempts = 1
	}

	return &Allocator{
		cfg:      cfg,
		requests: make(chan *resolveRequest),
		gm:       fn.NewGoroutineManager(),
	}
}

// Start recovers the cursor from the log, optionally skips addresses used
// elsewhere and launches the request handler.
func (a *Allocator) Start() error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Address allocator starting")

	a.recoverCursor()

	if !a.gm.Go(context.Background(), a.requestHandler) {
		return ErrAllocatorExiting
	}

	return nil
}

// Stop waits for the request in progress, if any, and stops the handler.
func (a *Allocator) Stop() error {
	if !a.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Address allocator shutting down...")
	defer log.Debug("Address allocator shutdown complete")

	a.gm.Stop()

	return nil
}

// recoverCursor points the deriver past every index in the log.
func (a *Allocator) recoverCursor() {
	next := a.cfg.FirstIndex
	a.cfg.Log.MaxIndex().WhenSome(func(maxIndex uint32) {
		switch {
		// Leave the cursor exhausted rather than wrapping around.
		case maxIndex == math.MaxUint32:
			next = maxIndex

		case maxIndex+1 > next:
			next = maxIndex + 1
		}
	})

	log.Infof("Recovered %d issuance records, next index %d",
		a.cfg.Log.Len(), next)

	a.cfg.Deriver.ResetCursor(next)
	monitoring.NextIndex.Set(float64(next))
}

// ScanExternalUse moves the cursor past addresses that were used without
// being issued by us, e.g. by a wallet sharing the same key. It stops at the
// first unused address, after GapLimit skips or on the first oracle failure.
// The request handler runs it before serving the first request.
func (a *Allocator) ScanExternalUse(ctx context.Context) {
	for skipped := uint32(0); skipped < a.cfg.GapLimit; skipped++ {
		index := a.cfg.Deriver.NextUnusedIndex()
		addr, err := a.cfg.Deriver.AddressAt(index)
		if err != nil {
			log.Warnf("External use scan stopped at index %d: %v",
				index, err)
			return
		}

		unused, err := a.isUnused(ctx, addr)
		if err != nil {
			log.Warnf("External use scan stopped at index %d: %v",
				index, err)
			return
		}
		if unused {
			log.Debugf("External use scan done, next index %d",
				index)
			return
		}

		log.Warnf("Address %v at index %d was used outside of "+
			"rasun, skipping it", addr, index)
		a.cfg.Deriver.ResetCursor(index + 1)
		monitoring.NextIndex.Set(float64(index + 1))
	}

	log.Warnf("External use scan reached the gap limit of %d",
		a.cfg.GapLimit)
}

// Resolve returns the address to give to requester: the prior one if it is
// still unused, otherwise a newly allocated one.
func (a *Allocator) Resolve(ctx context.Context,
	requester string) (*Issuance, error) {

	req := &resolveRequest{
		ctx:       ctx,
		requester: requester,
		resp:      make(chan resolveResponse, 1),
	}

	select {
	case a.requests <- req:
	case <-a.gm.Done():
		return nil, ErrAllocatorExiting
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.issuance, resp.err
	case <-a.gm.Done():
		return nil, ErrAllocatorExiting
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestHandler serves resolve requests one at a time.
//
// NOTE: MUST be run as a goroutine.
func (a *Allocator) requestHandler(ctx context.Context) {
	if a.cfg.GapLimit > 0 {
		a.ScanExternalUse(ctx)
	}

	for {
		select {
		case req := <-a.requests:
			reqCtx, cancel := context.WithCancel(req.ctx)
			stop := context.AfterFunc(ctx, cancel)

			issuance, err := a.resolve(reqCtx, req.requester)

			stop()
			cancel()

			req.resp <- resolveResponse{
				issuance: issuance,
				err:      err,
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *Allocator) resolve(ctx context.Context,
	requester string) (*Issuance, error) {

	prior, err := a.cfg.Log.Lookup(requester).UnwrapOrErr(
		errNoPriorAddress,
	)
	if err == nil {
		unused, err := a.isUnused(ctx, prior)
		if err != nil {
			return nil, err
		}

		if unused {
			log.Debugf("Reusing unused address %v for %v", prior,
				requester)
			monitoring.AddressesReused.Inc()

			return &Issuance{
				Address: prior,
				Reused:  true,
			}, nil
		}

		log.Debugf("Address %v of %v has been used", prior,
			requester)
	}

	index, addr, err := a.cfg.Deriver.NewAddress()
	if err != nil {
		return nil, fmt.Errorf("unable to derive address: %w", err)
	}

	rec := recovery.Record{
		Kind:      recovery.KindAddrRes,
		Receiver:  requester,
		Address:   addr,
		Index:     index,
		Timestamp: uint64(a.cfg.Clock.Now().Unix()),
	}
	if err := a.cfg.Log.Append(ctx, rec); err != nil {
		log.Errorf("Issuing %v without a persisted recovery record: %v",
			addr, err)
	}

	log.Infof("Address %v (index %d) issued to %v", addr, index,
		requester)
	monitoring.AddressesIssued.Inc()
	monitoring.NextIndex.Set(float64(a.cfg.Deriver.NextUnusedIndex()))

	return &Issuance{
		Address: addr,
		Index:   fn.Some(index),
	}, nil
}

// errNoPriorAddress marks a requester without any issuance record.
var errNoPriorAddress = errors.New("no prior address")

// isUnused asks the oracle, retrying with exponential backoff. Failures are
// wrapped in ErrOracleUnavailable once all attempts are used.
func (a *Allocator) isUnused(ctx context.Context, addr string) (bool, error) {
	backoff := a.cfg.OracleBackoff

	var err error
	for attempt := 1; ; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if a.cfg.OracleTimeout > 0 {
			callCtx, cancel = context.WithTimeout(
				ctx, a.cfg.OracleTimeout,
			)
		}

		var unused bool
		unused, err = a.cfg.Oracle.IsUnused(callCtx, addr)
		cancel()
		if err == nil {
			return unused, nil
		}

		monitoring.OracleErrors.Inc()

		if attempt >= a.cfg.OracleAttempts {
			break
		}

		log.Warnf("Activity query for %v failed (attempt %d/%d), "+
			"retrying in %v: %v", addr, attempt,
			a.cfg.OracleAttempts, backoff, err)

		select {
		case <-a.cfg.Clock.TickAfter(backoff):
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %v", ErrOracleUnavailable,
				ctx.Err())
		}
		backoff *= 2
	}

	return false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
}
