package releaser

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/TEENet-io/pegout-federator/releasestore"
	"github.com/TEENet-io/pegout-federator/releasesync"
	"github.com/TEENet-io/pegout-federator/signedcache"
	"github.com/TEENet-io/pegout-federator/signers"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bridgeAddress = ethcommon.HexToAddress("0x0000000000000000000000000000000001000006")

type memBackend struct {
	mu   sync.Mutex
	data []byte
}

func (mb *memBackend) Load() ([]byte, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.data, nil
}

func (mb *memBackend) Save(data []byte) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.data = data
	return nil
}

type countingAppliance struct {
	*signers.LocalAppliance

	mu          sync.Mutex
	signs       int
	ancestorErr error
}

func (ca *countingAppliance) Sign(ctx context.Context, keyID string, msg *signers.Message) ([]byte, error) {
	ca.mu.Lock()
	ca.signs++
	ca.mu.Unlock()
	return ca.LocalAppliance.Sign(ctx, keyID, msg)
}

func (ca *countingAppliance) EnsureAncestor(ctx context.Context, version int, blockHash ethcommon.Hash) error {
	if ca.ancestorErr != nil {
		return ca.ancestorErr
	}
	return ca.LocalAppliance.EnsureAncestor(ctx, version, blockHash)
}

func (ca *countingAppliance) Signs() int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.signs
}

type fakeBroadcaster struct {
	mu  sync.Mutex
	txs []*wire.MsgTx
	err error
}

func (fb *fakeBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.err != nil {
		return fb.err
	}
	fb.txs = append(fb.txs, tx)
	return nil
}

func (fb *fakeBroadcaster) Txs() []*wire.MsgTx {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]*wire.MsgTx{}, fb.txs...)
}

type alert struct {
	kind string
	id   ethcommon.Hash
	err  error
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (ra *recordingAlerter) add(kind string, id ethcommon.Hash, err error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.alerts = append(ra.alerts, alert{kind, id, err})
}

func (ra *recordingAlerter) SigningFailed(id ethcommon.Hash, err error) {
	ra.add("signing", id, err)
}

func (ra *recordingAlerter) PreSigningFailed(id ethcommon.Hash, err error) {
	ra.add("pre_signing", id, err)
}

func (ra *recordingAlerter) BroadcastFailed(id ethcommon.Hash, err error) {
	ra.add("broadcast", id, err)
}

func (ra *recordingAlerter) Alerts() []alert {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return append([]alert{}, ra.alerts...)
}

type fixture struct {
	t *testing.T

	sl          *bridgeman.SimLedger
	fed         *federation.SimFederation
	store       *releasestore.Store
	signed      *signedcache.Cache
	sync        *releasesync.Synchronizer
	appliance   *countingAppliance
	broadcaster *fakeBroadcaster
	alerter     *recordingAlerter
	cfg         *Config
	svc         *Service
}

// newFixture builds a releaser for member 0 of a 2-of-3 federation whose
// appliance speaks the given protocol version.
func newFixture(t *testing.T, version int) *fixture {
	fed, err := federation.NewSimFederation("active", 3, 2)
	require.NoError(t, err)

	sl := bridgeman.NewSimLedger(bridgeAddress)
	parser := bridgeman.NewEventParser(bridgeAddress)

	store, err := releasestore.New(&memBackend{}, releasestore.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	signed, err := signedcache.New(time.Minute, time.Minute)
	require.NoError(t, err)

	syncer, err := releasesync.New(releasesync.DefaultConfig(), sl, sl, parser, store)
	require.NoError(t, err)

	local, err := signers.NewLocalAppliance(version, map[string]*btcec.PrivateKey{DefaultKeyID: fed.PrivKeys[0]})
	require.NoError(t, err)

	f := &fixture{
		t:           t,
		sl:          sl,
		fed:         fed,
		store:       store,
		signed:      signed,
		sync:        syncer,
		appliance:   &countingAppliance{LocalAppliance: local},
		broadcaster: &fakeBroadcaster{},
		alerter:     &recordingAlerter{},
		cfg:         DefaultConfig(),
	}

	f.svc, err = New(f.cfg, &Params{
		Bridge:       sl,
		Resolver:     federation.NewResolver(fed.Federation, nil),
		Index:        store,
		Signed:       signed,
		Sync:         syncer,
		Attestations: attestation.NewReceiptProvider(sl, parser, attestation.DefaultMaxForwardSearch),
		Appliance:    f.appliance,
		Broadcaster:  f.broadcaster,
		Parser:       parser,
		Alerter:      f.alerter,
	})
	require.NoError(t, err)
	return f
}

// mineTo adds empty blocks until the tip is at height.
func (f *fixture) mineTo(height uint64) {
	best, err := f.sl.BlockNumber(context.Background())
	require.NoError(f.t, err)
	require.LessOrEqual(f.t, best, height)
	f.sl.AddBlocks(int(height - best))
}

// addCreation mines the block holding the creation tx of a new request.
func (f *fixture) addCreation(fed *federation.SimFederation, inputs int) (ethcommon.Hash, *wire.MsgTx) {
	tx, err := fed.NewSpendTx(inputs, nil)
	require.NoError(f.t, err)
	creation := ethcommon.Hash(common.RandBytes32())
	f.sl.AddBlock(bridgeman.NewTxReceipt(creation))
	return creation, tx
}

// addReleaseRequested mines a block with the release_requested events.
func (f *fixture) addReleaseRequested(reqs map[ethcommon.Hash]*wire.MsgTx) {
	receipts := make([]*types.Receipt, 0, len(reqs))
	for creation, tx := range reqs {
		receipts = append(receipts, f.sl.NewReleaseRequestedReceipt(creation, tx.TxHash(), big.NewInt(10000)))
	}
	f.sl.AddBlock(receipts...)
}

func (f *fixture) syncIndex() {
	synced, err := f.sync.Poll(context.Background())
	require.NoError(f.t, err)
	require.True(f.t, synced)
}

func (f *fixture) tick() error {
	best, err := f.sl.BlockNumber(context.Background())
	require.NoError(f.t, err)
	return f.svc.Tick(context.Background(), best)
}

// assertSubmission checks the i-th submission signs tx on behalf of member 0
// and is keyed by id.
func (f *fixture) assertSubmission(i int, id ethcommon.Hash, tx *wire.MsgTx) {
	subs := f.sl.Submissions()
	require.Greater(f.t, len(subs), i)
	sub := subs[i]

	assert.Equal(f.t, id, sub.TxID)
	assert.Equal(f.t, f.fed.PubKeys[0].SerializeCompressed(), sub.PubKey)
	require.Len(f.t, sub.Sigs, len(tx.TxIn))

	for idx, der := range sub.Sigs {
		hash, err := federation.SigHash(tx, idx)
		require.NoError(f.t, err)
		sig, err := ecdsa.ParseDERSignature(der)
		require.NoError(f.t, err)
		assert.True(f.t, sig.Verify(hash, f.fed.PubKeys[0]), "signature of input %d", idx)
	}
}

var errBoom = errors.New("boom")

var _ agreement.Alerter = (*recordingAlerter)(nil)
