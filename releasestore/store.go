// Package releasestore keeps the btc tx id -> creation tx id index that lets
// the federator resolve which ledger transaction created a transfer request.
//
// Reads and writes work on memory. Writes are persisted asynchronously, with
// bursts coalesced into one flush. Close performs a final synchronous flush.
package releasestore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

type Store struct {
	mu      sync.Mutex
	entries map[chainhash.Hash]ethcommon.Hash
	best    *ethcommon.Hash

	backend  Backend
	debounce *debouncer

	// serialises flushes so newer snapshots are never overwritten by older ones
	flushMu sync.Mutex
	flushes atomic.Uint64
	closed  atomic.Bool
}

// New loads the index from backend. Unreadable or corrupt data is an error,
// the caller must not continue with an empty index in that case.
func New(backend Backend, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	data, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load release index: %w", err)
	}

	best, entries, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}

	st := &Store{
		entries: entries,
		best:    best,
		backend: backend,
	}
	st.debounce = newDebouncer(cfg.FlushDelay, cfg.MaxDelays, st.flushAsync)

	fields := logger.Fields{"entries": len(entries)}
	if best != nil {
		fields["bestBlockHash"] = best.Hex()
	}
	logger.WithFields(fields).Debug("release index loaded")

	return st, nil
}

func (st *Store) Has(btcTxID chainhash.Hash) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.entries[btcTxID]
	return ok
}

func (st *Store) Get(btcTxID chainhash.Hash) (ethcommon.Hash, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	v, ok := st.entries[btcTxID]
	return v, ok
}

// BestBlockHash returns the checkpoint, the last ledger block whose
// events have been fully applied.
func (st *Store) BestBlockHash() (ethcommon.Hash, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.best == nil {
		return ethcommon.Hash{}, false
	}
	return *st.best, true
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.entries)
}

func (st *Store) Put(btcTxID chainhash.Hash, creationTxID ethcommon.Hash) {
	st.mu.Lock()
	st.entries[btcTxID] = creationTxID
	st.mu.Unlock()

	st.debounce.trigger()
}

func (st *Store) SetBestBlockHash(hash ethcommon.Hash) {
	st.mu.Lock()
	st.best = &hash
	st.mu.Unlock()

	st.debounce.trigger()
}

// Flushes counts successful writes to the backend.
func (st *Store) Flushes() uint64 {
	return st.flushes.Load()
}

// Close cancels pending flushes and persists the current state.
func (st *Store) Close() error {
	if st.closed.Swap(true) {
		return nil
	}

	st.debounce.close()
	return st.flush()
}

func (st *Store) flushAsync() {
	if err := st.flush(); err != nil {
		logger.WithField("err", err).Error("failed to flush release index")
	}
}

func (st *Store) flush() error {
	st.flushMu.Lock()
	defer st.flushMu.Unlock()

	st.mu.Lock()
	data, err := encodeRecord(st.best, st.entries)
	n := len(st.entries)
	st.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode release index: %w", err)
	}

	if err := st.backend.Save(data); err != nil {
		return fmt.Errorf("failed to save release index: %w", err)
	}
	st.flushes.Add(1)

	logger.WithField("entries", n).Debug("release index flushed")
	return nil
}
