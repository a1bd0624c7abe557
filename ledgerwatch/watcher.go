// Package ledgerwatch follows the head of the ledger and turns every new
// block into a BlockEvent, re-emitting the new branch after a reorg.
package ledgerwatch

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

type Watcher struct {
	cfg   *Config
	chain agreement.ChainReader

	bestCh chan *agreement.BlockEvent
	allCh  chan *agreement.BlockEvent

	// hashes of recently emitted blocks by height
	emitted map[uint64]ethcommon.Hash
	next    uint64
	started bool
}

func New(cfg *Config, chain agreement.ChainReader) (*Watcher, error) {
	if cfg.PollInterval < MinPollInterval {
		return nil, ErrInvalidInterval
	}

	return &Watcher{
		cfg:     cfg,
		chain:   chain,
		bestCh:  make(chan *agreement.BlockEvent, cfg.ChannelSize),
		allCh:   make(chan *agreement.BlockEvent, cfg.ChannelSize),
		emitted: make(map[uint64]ethcommon.Hash),
	}, nil
}

// BestBlocks receives each block that became the canonical tip, in order.
func (w *Watcher) BestBlocks() <-chan *agreement.BlockEvent {
	return w.bestCh
}

// Blocks receives every block seen, including ones later reorganised away.
func (w *Watcher) Blocks() <-chan *agreement.BlockEvent {
	return w.allCh
}

func (w *Watcher) Loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithField("err", err).Warn("failed to poll ledger head")
			}
		}
	}
}

// Poll emits every block between the last emitted one and the current head.
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}

	if !w.started {
		w.next = head
		if w.cfg.StartHeight >= 0 {
			w.next = uint64(w.cfg.StartHeight)
		}
		w.started = true
	} else if w.next > 0 {
		forked, err := w.forkPoint(ctx)
		if err != nil {
			return err
		}
		if forked+1 < w.next {
			logger.WithFields(logger.Fields{
				"from":    forked + 1,
				"emitted": w.next - 1,
			}).Warn("ledger reorg detected")
			w.next = forked + 1
		}
	}

	for ; w.next <= head; w.next++ {
		block, err := w.chain.BlockByNumber(ctx, new(big.Int).SetUint64(w.next))
		if err != nil {
			return fmt.Errorf("failed to get block %d: %w", w.next, err)
		}
		receipts, err := w.chain.BlockReceipts(ctx, block.Hash())
		if err != nil {
			return fmt.Errorf("failed to get receipts of block %d: %w", w.next, err)
		}

		ev := &agreement.BlockEvent{Block: block, Receipts: receipts}
		if err := w.emit(ctx, w.allCh, ev); err != nil {
			return err
		}
		if err := w.emit(ctx, w.bestCh, ev); err != nil {
			return err
		}

		w.emitted[w.next] = block.Hash()
		if w.next >= w.cfg.MaxReorgDepth {
			delete(w.emitted, w.next-w.cfg.MaxReorgDepth)
		}
	}
	return nil
}

// forkPoint returns the highest emitted height still on the canonical chain.
// When none of the remembered blocks is canonical the oldest one minus one
// is returned so the whole remembered range is emitted again.
func (w *Watcher) forkPoint(ctx context.Context) (uint64, error) {
	h := w.next - 1
	for {
		hash, ok := w.emitted[h]
		if !ok {
			// nothing remembered this far back
			return h, nil
		}

		block, err := w.chain.BlockByNumber(ctx, new(big.Int).SetUint64(h))
		if err == nil && block.Hash() == hash {
			return h, nil
		}
		if err != nil && !isNotFound(err) {
			return 0, err
		}

		delete(w.emitted, h)
		if h == 0 {
			return 0, nil
		}
		h--
	}
}

func (w *Watcher) emit(ctx context.Context, ch chan<- *agreement.BlockEvent, ev *agreement.BlockEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- ev:
		return nil
	}
}
