package ledgerwatch

import (
	"context"
	"testing"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan *agreement.BlockEvent) []*agreement.BlockEvent {
	var evs []*agreement.BlockEvent
	for {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func numbers(evs []*agreement.BlockEvent) []uint64 {
	ns := make([]uint64, 0, len(evs))
	for _, ev := range evs {
		ns = append(ns, ev.Number())
	}
	return ns
}

func newWatcher(t *testing.T, sl *bridgeman.SimLedger, start int64) *Watcher {
	cfg := DefaultConfig()
	cfg.ChannelSize = 100
	cfg.StartHeight = start
	w, err := New(cfg, sl)
	require.NoError(t, err)
	return w
}

func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	_, err := New(cfg, bridgeman.NewSimLedger(ethcommon.Address{}))
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestPollEmitsInOrder(t *testing.T) {
	ctx := context.Background()
	sl := bridgeman.NewSimLedger(ethcommon.Address{})
	sl.AddBlocks(3)

	w := newWatcher(t, sl, 1)
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []uint64{1, 2, 3}, numbers(drain(w.BestBlocks())))
	assert.Equal(t, []uint64{1, 2, 3}, numbers(drain(w.Blocks())))

	// nothing new
	require.NoError(t, w.Poll(ctx))
	assert.Empty(t, drain(w.BestBlocks()))

	sl.AddBlocks(2)
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []uint64{4, 5}, numbers(drain(w.BestBlocks())))
}

func TestPollStartsAtHead(t *testing.T) {
	sl := bridgeman.NewSimLedger(ethcommon.Address{})
	sl.AddBlocks(5)

	w := newWatcher(t, sl, -1)
	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, []uint64{5}, numbers(drain(w.BestBlocks())))
}

func TestPollReorg(t *testing.T) {
	ctx := context.Background()
	sl := bridgeman.NewSimLedger(ethcommon.Address{})
	sl.AddBlocks(5)

	w := newWatcher(t, sl, 1)
	require.NoError(t, w.Poll(ctx))
	old := drain(w.Blocks())
	drain(w.BestBlocks())

	sl.Reorg(2)
	sl.AddBlocks(3)
	require.NoError(t, w.Poll(ctx))

	evs := drain(w.BestBlocks())
	assert.Equal(t, []uint64{4, 5, 6}, numbers(evs))
	assert.NotEqual(t, old[3].Block.Hash(), evs[0].Block.Hash())
	assert.Equal(t, old[2].Block.Hash(), evs[0].Block.ParentHash())
}

func TestLoopStopsOnCancel(t *testing.T) {
	sl := bridgeman.NewSimLedger(ethcommon.Address{})
	cfg := DefaultConfig()
	cfg.PollInterval = MinPollInterval
	w, err := New(cfg, sl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Loop(ctx) }()

	ev := <-w.BestBlocks()
	assert.Equal(t, uint64(0), ev.Number())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
