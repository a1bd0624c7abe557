package releaser

import (
	"context"
	"testing"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/TEENet-io/pegout-federator/signers"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoRequests creates requests at heights 100 and 105, both announced at
// 106, with the bridge listing the newer one first.
func twoRequests(f *fixture) (h1 ethcommon.Hash, tx1 *wire.MsgTx, h2 ethcommon.Hash, tx2 *wire.MsgTx) {
	f.mineTo(99)
	h1, tx1 = f.addCreation(f.fed, 2)
	f.mineTo(104)
	h2, tx2 = f.addCreation(f.fed, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h1: tx1, h2: tx2})
	f.mineTo(110)
	f.syncIndex()

	f.sl.SetAwaiting(
		&agreement.ReleaseCandidate{CreationTxID: h2, ConfirmationTxID: h2, Tx: tx2},
		&agreement.ReleaseCandidate{CreationTxID: h1, ConfirmationTxID: h1, Tx: tx1},
	)
	return
}

func TestTickSignsOldestFirstOncePerTick(t *testing.T) {
	for _, version := range []int{1, 2} {
		f := newFixture(t, version)
		h1, tx1, h2, tx2 := twoRequests(f)

		require.NoError(t, f.tick())
		require.Len(t, f.sl.Submissions(), 1)
		f.assertSubmission(0, h1, tx1)
		assert.True(t, f.signed.Has(h1))
		assert.False(t, f.signed.Has(h2))

		require.NoError(t, f.tick())
		require.Len(t, f.sl.Submissions(), 2)
		f.assertSubmission(1, h2, tx2)

		assert.ErrorIs(t, f.tick(), ErrNothingToSign)
		assert.Len(t, f.sl.Submissions(), 2)
		assert.Equal(t, 3, f.appliance.Signs())
		assert.Empty(t, f.alerter.Alerts())
	}
}

func TestTickNewestFirst(t *testing.T) {
	f := newFixture(t, 2)
	f.cfg.NewestFirst = true
	_, _, h2, tx2 := twoRequests(f)

	require.NoError(t, f.tick())
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, h2, tx2)
}

func TestTickIgnoresForeignFederation(t *testing.T) {
	f := newFixture(t, 2)
	stranger, err := federation.NewSimFederation("stranger", 3, 2)
	require.NoError(t, err)

	f.mineTo(20)
	h, tx := f.addCreation(stranger, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h: tx})
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	assert.ErrorIs(t, f.tick(), ErrNothingToSign)
	assert.Zero(t, f.appliance.Signs())
	assert.Empty(t, f.sl.Submissions())
}

func TestTickSignsTweakedRedeemScript(t *testing.T) {
	f := newFixture(t, 2)

	tweak := common.RandBytes32()
	tx, err := f.fed.NewSpendTx(2, &tweak)
	require.NoError(t, err)
	h := ethcommon.Hash(common.RandBytes32())

	f.mineTo(10)
	f.sl.AddBlock(bridgeman.NewTxReceipt(h))
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h: tx})
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	require.NoError(t, f.tick())
	f.assertSubmission(0, h, tx)
}

func TestTickSkipsOwnSignature(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h1, tx1 := f.addCreation(f.fed, 1)
	h2, tx2 := f.addCreation(f.fed, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h1: tx1, h2: tx2})
	f.syncIndex()

	// h1 carries our signature, h2 only the one of another member
	signed1 := tx1.Copy()
	require.NoError(t, f.fed.SignInput(signed1, 0, 0))
	signed2 := tx2.Copy()
	require.NoError(t, f.fed.SignInput(signed2, 0, 1))

	f.sl.SetAwaiting(
		&agreement.ReleaseCandidate{CreationTxID: h1, Tx: signed1},
		&agreement.ReleaseCandidate{CreationTxID: h2, Tx: signed2},
	)

	require.NoError(t, f.tick())
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, h2, tx2)

	assert.ErrorIs(t, f.tick(), ErrNothingToSign)
}

func TestTickResolvesCreationFromIndex(t *testing.T) {
	f := newFixture(t, 2)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h: tx})
	f.syncIndex()

	// the bridge only reports the confirmation tx
	confirmation := ethcommon.Hash(common.RandBytes32())
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{ConfirmationTxID: confirmation, Tx: tx})

	require.NoError(t, f.tick())
	// submitted under the bridge's key, remembered under the creation
	f.assertSubmission(0, confirmation, tx)
	assert.True(t, f.signed.Has(h))
	assert.False(t, f.signed.Has(confirmation))
}

func TestTickSubmitsUnderConfirmationID(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 2)
	f.syncIndex()

	confirmation := ethcommon.Hash(common.RandBytes32())
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, ConfirmationTxID: confirmation, Tx: tx})

	require.NoError(t, f.tick())
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, confirmation, tx)
	assert.True(t, f.signed.Has(h))
}

func TestTickSkipsUnattestableRequest(t *testing.T) {
	f := newFixture(t, 2)

	f.mineTo(10)
	// no release_requested event is ever logged for the older request
	stuck, stuckTx := f.addCreation(f.fed, 1)
	h, tx := f.addCreation(f.fed, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h: tx})
	f.syncIndex()

	f.sl.SetAwaiting(
		&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx},
		&agreement.ReleaseCandidate{CreationTxID: stuck, Tx: stuckTx},
	)

	require.NoError(t, f.tick())
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, h, tx)
	assert.True(t, f.signed.Has(h))
	assert.False(t, f.signed.Has(stuck))

	alerts := f.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "signing", alerts[0].kind)
	assert.Equal(t, stuck, alerts[0].id)
	var lookupErr *attestation.LookupError
	assert.ErrorAs(t, alerts[0].err, &lookupErr)

	// only the stuck request is left, it keeps failing without blocking
	err := f.tick()
	assert.ErrorAs(t, err, &lookupErr)
	assert.Len(t, f.sl.Submissions(), 1)
	assert.Equal(t, 1, f.appliance.Signs())
}

func TestTickSkipsUnknownCreation(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.syncIndex()

	unknownTx, err := f.fed.NewSpendTx(1, nil)
	require.NoError(t, err)
	f.sl.SetAwaiting(
		&agreement.ReleaseCandidate{CreationTxID: ethcommon.Hash(common.RandBytes32()), Tx: unknownTx},
		&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx},
	)

	require.NoError(t, f.tick())
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, h, tx)
}

func TestTickValidationRequest(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	vh, vtx := f.addCreation(f.fed, 1)
	f.syncIndex()

	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})
	f.sl.SetValidationRequest(&agreement.ValidationRequest{CreationTxID: vh, OriginBlock: 12, Tx: vtx})

	// 12 + 10 confirmations not reached yet
	f.mineTo(21)
	require.NoError(t, f.tick())
	f.assertSubmission(0, h, tx)

	f.mineTo(22)
	require.NoError(t, f.tick())
	f.assertSubmission(1, vh, vtx)

	// nothing is left once the validation spend is signed
	assert.ErrorIs(t, f.tick(), ErrNothingToSign)
}

func TestTickMissingAttestation(t *testing.T) {
	f := newFixture(t, 2)

	// no release_requested event, so nothing can be proven
	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	assert.Error(t, f.tick())
	assert.Empty(t, f.sl.Submissions())
	assert.False(t, f.signed.Has(h))

	alerts := f.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "signing", alerts[0].kind)
	assert.Equal(t, h, alerts[0].id)
}

func TestTickPreSigningFailure(t *testing.T) {
	f := newFixture(t, 2)
	f.appliance.ancestorErr = errBoom

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.addReleaseRequested(map[ethcommon.Hash]*wire.MsgTx{h: tx})
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	assert.ErrorIs(t, f.tick(), errBoom)
	assert.Zero(t, f.appliance.Signs())
	assert.Empty(t, f.sl.Submissions())

	alerts := f.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "pre_signing", alerts[0].kind)
}

func TestTickSubmitFailureRetries(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	f.sl.SetSubmitError(errBoom)
	assert.ErrorIs(t, f.tick(), errBoom)
	assert.False(t, f.signed.Has(h))

	f.sl.SetSubmitError(nil)
	require.NoError(t, f.tick())
	f.assertSubmission(0, h, tx)
}

func TestOnBestBlockGating(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	ctx := context.Background()
	onBest := func() {
		block, err := f.sl.BlockByNumber(ctx, nil)
		require.NoError(t, err)
		f.svc.OnBestBlock(ctx, &agreement.BlockEvent{Block: block})
	}

	// index not synced
	onBest()
	assert.Empty(t, f.sl.Submissions())

	f.syncIndex()

	// disabled
	f.cfg.Enabled = false
	onBest()
	assert.Empty(t, f.sl.Submissions())
	f.cfg.Enabled = true

	// ledger node syncing
	f.sl.SetSyncing(true)
	onBest()
	assert.Empty(t, f.sl.Submissions())
	f.sl.SetSyncing(false)

	onBest()
	require.Len(t, f.sl.Submissions(), 1)
	f.assertSubmission(0, h, tx)
}

func TestOnBlockBroadcasts(t *testing.T) {
	f := newFixture(t, 1)

	tx, err := f.fed.NewSpendTx(1, nil)
	require.NoError(t, err)
	releaseTxID := ethcommon.Hash(common.RandBytes32())
	block := f.sl.AddBlock(f.sl.NewReleaseBtcReceipt(releaseTxID, tx))
	receipts, err := f.sl.BlockReceipts(context.Background(), block.Hash())
	require.NoError(t, err)
	ev := &agreement.BlockEvent{Block: block, Receipts: receipts}

	f.svc.OnBlock(context.Background(), ev)
	txs := f.broadcaster.Txs()
	require.Len(t, txs, 1)
	assert.Equal(t, tx.TxHash(), txs[0].TxHash())
	assert.Empty(t, f.alerter.Alerts())

	f.broadcaster.err = errBoom
	f.svc.OnBlock(context.Background(), ev)
	alerts := f.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "broadcast", alerts[0].kind)
	assert.Equal(t, releaseTxID, alerts[0].id)
}

func TestLoop(t *testing.T) {
	f := newFixture(t, 1)

	f.mineTo(10)
	h, tx := f.addCreation(f.fed, 1)
	f.syncIndex()
	f.sl.SetAwaiting(&agreement.ReleaseCandidate{CreationTxID: h, Tx: tx})

	btcTx, err := f.fed.NewSpendTx(1, nil)
	require.NoError(t, err)
	block := f.sl.AddBlock(f.sl.NewReleaseBtcReceipt(ethcommon.Hash(common.RandBytes32()), btcTx))
	receipts, err := f.sl.BlockReceipts(context.Background(), block.Hash())
	require.NoError(t, err)
	ev := &agreement.BlockEvent{Block: block, Receipts: receipts}

	best := make(chan *agreement.BlockEvent, 1)
	all := make(chan *agreement.BlockEvent, 1)
	all <- ev
	best <- ev

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Loop(ctx, best, all) }()

	assert.Eventually(t, func() bool {
		return len(f.sl.Submissions()) == 1 && len(f.broadcaster.Txs()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSortReady(t *testing.T) {
	a := &readyRelease{creationTxID: ethcommon.Hash{1}, blockNumber: 105}
	b := &readyRelease{creationTxID: ethcommon.Hash{2}, blockNumber: 100}
	c := &readyRelease{creationTxID: ethcommon.Hash{3}, blockNumber: 100}

	ready := []*readyRelease{a, c, b}
	sortReady(ready, false)
	assert.Equal(t, []*readyRelease{b, c, a}, ready)

	sortReady(ready, true)
	assert.Equal(t, []*readyRelease{a, b, c}, ready)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(DefaultConfig(), &Params{})
	assert.Error(t, err)
}

var (
	_ signers.AncestorUpdater = (*countingAppliance)(nil)
	_ agreement.Broadcaster   = (*fakeBroadcaster)(nil)
)
