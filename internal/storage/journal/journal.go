// Package journal is a pebble-backed implementation of the ledger's
// durable-write boundary. Records are stored append-only under their
// big-endian sequence number, so iteration order is replay order.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/simecon/ledgerd/internal/core/ledger"
)

var ErrClosed = errors.New("journal is closed")

// Store persists transaction records in a pebble database and
// implements ledger.Sink.
type Store struct {
	db     *pebble.DB
	closed atomic.Bool
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Append durably writes the record. The ledger calls this only for
// validated mutations; a sync write keeps the journal a strict prefix
// of applied state.
func (s *Store) Append(rec ledger.TxRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.Seq, err)
	}
	return s.db.Set(seqKey(rec.Seq), value, pebble.Sync)
}

// Replay calls fn for every stored record in sequence order, stopping
// at the first error.
func (s *Store) Replay(fn func(ledger.TxRecord) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec ledger.TxRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode record at key %x: %w", iter.Key(), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSeq returns the highest stored sequence number, zero when empty.
func (s *Store) LastSeq() (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(iter.Key()), nil
}

// Close flushes and closes the database. Further calls fail with
// ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
