// Package releasesync fills the release index from release_requested events,
// first by catching up with the ledger and then block by block.
package releasesync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

// Index is the part of the release store the synchronizer writes to.
type Index interface {
	Put(btcTxID chainhash.Hash, creationTxID ethcommon.Hash)
	SetBestBlockHash(hash ethcommon.Hash)
	BestBlockHash() (ethcommon.Hash, bool)
}

type Synchronizer struct {
	cfg    *Config
	bridge agreement.Bridge
	chain  agreement.ChainReader
	parser *bridgeman.EventParser
	index  Index

	// serialises the catch-up walk and live blocks
	mu sync.Mutex

	synced   atomic.Bool
	syncedCh chan struct{}
	once     sync.Once
}

func New(
	cfg *Config,
	bridge agreement.Bridge,
	chain agreement.ChainReader,
	parser *bridgeman.EventParser,
	index Index,
) (*Synchronizer, error) {
	if cfg.PollInterval < MinTickerInterval {
		return nil, ErrInvalidInterval
	}

	return &Synchronizer{
		cfg:      cfg,
		bridge:   bridge,
		chain:    chain,
		parser:   parser,
		index:    index,
		syncedCh: make(chan struct{}),
	}, nil
}

func (s *Synchronizer) IsSynced() bool {
	return s.synced.Load()
}

// Synced is closed once the first catch-up has completed.
func (s *Synchronizer) Synced() <-chan struct{} {
	return s.syncedCh
}

// Sync polls until the index has caught up with the ledger, then returns.
func (s *Synchronizer) Sync(ctx context.Context) error {
	logger.Info("starting release index synchronization")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.syncedCh:
			logger.Info("release index synchronized")
			return nil
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithField("err", err).Warn("release index synchronization failed, retrying")
			}
		}
	}
}

// Poll runs one catch-up attempt and reports whether the index is synced.
func (s *Synchronizer) Poll(ctx context.Context) (bool, error) {
	if s.IsSynced() {
		return true, nil
	}

	caughtUp, err := s.bridge.HasNodeCaughtUpToNetwork(ctx)
	if err != nil {
		return false, err
	}
	if !caughtUp {
		logger.Debug("ledger node still syncing, postponing release index synchronization")
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	best, err := s.bridge.GetCurrentBestHeight(ctx)
	if err != nil {
		return false, err
	}
	start, err := s.startHeight(ctx, best)
	if err != nil {
		return false, err
	}

	logger.WithFields(logger.Fields{
		"from": start,
		"best": best,
	}).Info("synchronizing release index")

	for height := start; height <= best; height++ {
		block, err := s.chain.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return false, fmt.Errorf("failed to get block %d: %w", height, err)
		}
		receipts, err := s.chain.BlockReceipts(ctx, block.Hash())
		if err != nil {
			return false, fmt.Errorf("failed to get receipts of block %d: %w", height, err)
		}
		s.apply(block, receipts)

		// the ledger keeps moving while we walk
		if best, err = s.bridge.GetCurrentBestHeight(ctx); err != nil {
			return false, err
		}
	}

	s.markSynced()
	return true, nil
}

// ProcessBlock applies a live block. Blocks arriving before the first
// catch-up are ignored, the walk will cover them. A block arriving while
// the walk finishes waits for it and is then applied.
func (s *Synchronizer) ProcessBlock(block *types.Block, receipts types.Receipts) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsSynced() {
		return
	}
	s.apply(block, receipts)
}

// startHeight resumes after the checkpoint if it is still canonical.
// Otherwise the index is rebuilt from MaxBacklogDepth blocks below best.
func (s *Synchronizer) startHeight(ctx context.Context, best uint64) (uint64, error) {
	fallback := uint64(0)
	if best > s.cfg.MaxBacklogDepth {
		fallback = best - s.cfg.MaxBacklogDepth
	}

	hash, ok := s.index.BestBlockHash()
	if !ok {
		return fallback, nil
	}

	checkpoint, err := s.chain.BlockByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		logger.WithField("checkpoint", hash.Hex()).Warn("release index checkpoint unknown to ledger, rescanning")
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}

	canonical, err := s.chain.BlockByNumber(ctx, checkpoint.Number())
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return 0, err
	}
	if err != nil || canonical.Hash() != hash {
		logger.WithFields(logger.Fields{
			"checkpoint": hash.Hex(),
			"height":     checkpoint.NumberU64(),
		}).Warn("release index checkpoint is not canonical, rescanning")
		return fallback, nil
	}

	return checkpoint.NumberU64() + 1, nil
}

func (s *Synchronizer) apply(block *types.Block, receipts types.Receipts) {
	evs, err := s.parser.ReleaseRequestedInReceipts(receipts)
	if err != nil {
		logger.WithFields(logger.Fields{
			"block": block.NumberU64(),
			"err":   err,
		}).Warn("skipping malformed release_requested events")
	}

	for _, ev := range evs {
		s.index.Put(ev.BtcTxID, ev.CreationTxID)
		logger.WithFields(logger.Fields{
			"btcTxId":      ev.BtcTxID.String(),
			"creationTxId": ev.CreationTxID.Hex(),
			"block":        block.NumberU64(),
		}).Debug("release request indexed")
	}
	s.index.SetBestBlockHash(block.Hash())
}

func (s *Synchronizer) markSynced() {
	s.once.Do(func() {
		s.synced.Store(true)
		close(s.syncedCh)
	})
}
