package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rasun/rasun/monitoring"
)

// Log is the in-memory view of every issuance record, newest first, backed by
// an append-only Store. It is safe for concurrent use.
type Log struct {
	store Store

	mtx     sync.RWMutex
	records []Record
}

// NewLog returns an empty log writing to store.
func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Replay rebuilds the log from everything found in the store. Entries that
// cannot be opened or decoded are skipped with a warning. Only a failure to
// fetch the history at all is returned.
func Replay(ctx context.Context, store Store) (*Log, error) {
	entries, err := store.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch recovery history: %w",
			err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.Err != nil {
			log.Warnf("Skipping unreadable recovery entry %v: %v",
				entry.ID, entry.Err)
			monitoring.DecryptFailures.Inc()

			continue
		}

		rec, err := DecodeRecord(entry.Plaintext)
		if err != nil {
			log.Warnf("Skipping undecodable recovery entry %v: %v",
				entry.ID, err)

			continue
		}

		log.Tracef("Recovered %v given to %v at index %d",
			rec.Address, rec.Receiver, rec.Index)

		records = append(records, *rec)
	}

	// Newest first. Records sharing a second are ordered by index, which
	// is the order they were allocated in.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}

		return records[i].Index > records[j].Index
	})

	log.Infof("Recovery log replayed: %d records from %d entries",
		len(records), len(entries))
	monitoring.RecoveryRecords.Set(float64(len(records)))

	return &Log{
		store:   store,
		records: records,
	}, nil
}

// LastIndex returns the index of the most recent record, or 0 if the log is
// empty.
func (l *Log) LastIndex() uint32 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	if len(l.records) == 0 {
		return 0
	}

	return l.records[0].Index
}

// MaxIndex returns the greatest index of any record.
func (l *Log) MaxIndex() fn.Option[uint32] {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	if len(l.records) == 0 {
		return fn.None[uint32]()
	}

	maxIndex := l.records[0].Index
	for _, rec := range l.records[1:] {
		if rec.Index > maxIndex {
			maxIndex = rec.Index
		}
	}

	return fn.Some(maxIndex)
}

// Lookup returns the address most recently given to receiver.
func (l *Log) Lookup(receiver string) fn.Option[string] {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	for _, rec := range l.records {
		if rec.Receiver == receiver {
			return fn.Some(rec.Address)
		}
	}

	return fn.None[string]()
}

// Append adds the record to the log and writes it to the store. The record is
// visible to lookups before the write starts. A failed write leaves the
// record in memory and is returned wrapped. It must not stop the caller from
// using the record.
func (l *Log) Append(ctx context.Context, rec Record) error {
	l.mtx.Lock()
	i := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].Timestamp <= rec.Timestamp
	})
	l.records = append(l.records, Record{})
	copy(l.records[i+1:], l.records[i:])
	l.records[i] = rec
	n := len(l.records)
	l.mtx.Unlock()

	monitoring.RecoveryRecords.Set(float64(n))

	plaintext, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("unable to encode record: %w", err)
	}

	if err := l.store.Append(ctx, plaintext); err != nil {
		monitoring.RecoveryPublishFailures.Inc()

		return fmt.Errorf("record for %v not persisted: %w",
			rec.Address, err)
	}

	log.Debugf("Recorded %v given to %v at index %d", rec.Address,
		rec.Receiver, rec.Index)

	return nil
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	return len(l.records)
}

// Records returns a copy of the records, newest first.
func (l *Log) Records() []Record {
	l.mtx.RLock()
	defer l.mtx.RUnlock()

	records := make([]Record, len(l.records))
	copy(records, l.records)

	return records
}
