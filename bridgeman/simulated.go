package bridgeman

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
)

// Submission records one SubmitSignatures call.
type Submission struct {
	PubKey []byte
	Sigs   [][]byte
	TxID   ethcommon.Hash
}

// SimLedger is an in-memory ledger with a bridge contract. It implements
// agreement.Bridge and agreement.ChainReader for tests and local runs.
type SimLedger struct {
	mu sync.Mutex

	bridgeAddress ethcommon.Address

	// canonical chain, index is the height
	canonical []*types.Block
	// every block ever produced, including orphaned ones
	blocks   map[ethcommon.Hash]*types.Block
	receipts map[ethcommon.Hash]types.Receipts
	fork     byte

	syncing     bool
	awaiting    []*agreement.ReleaseCandidate
	validation  *agreement.ValidationRequest
	submissions []*Submission
	submitErr   error
}

func NewSimLedger(bridgeAddress ethcommon.Address) *SimLedger {
	sl := &SimLedger{
		bridgeAddress: bridgeAddress,
		blocks:        make(map[ethcommon.Hash]*types.Block),
		receipts:      make(map[ethcommon.Hash]types.Receipts),
	}
	sl.appendBlock(nil)
	return sl
}

func (sl *SimLedger) BridgeAddress() ethcommon.Address {
	return sl.bridgeAddress
}

// AddBlock mines a block on top of the canonical tip holding receipts.
func (sl *SimLedger) AddBlock(receipts ...*types.Receipt) *types.Block {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.appendBlock(receipts)
}

// AddBlocks mines n empty blocks.
func (sl *SimLedger) AddBlocks(n int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for i := 0; i < n; i++ {
		sl.appendBlock(nil)
	}
}

// Reorg drops the top depth blocks from the canonical chain. Blocks mined
// afterwards get different hashes than the dropped ones.
func (sl *SimLedger) Reorg(depth int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if depth >= len(sl.canonical) {
		depth = len(sl.canonical) - 1
	}
	sl.canonical = sl.canonical[:len(sl.canonical)-depth]
	sl.fork++
}

func (sl *SimLedger) appendBlock(receipts types.Receipts) *types.Block {
	height := uint64(len(sl.canonical))
	parent := ethcommon.Hash{}
	if height > 0 {
		parent = sl.canonical[height-1].Hash()
	}

	header := &types.Header{
		ParentHash:  parent,
		Number:      new(big.Int).SetUint64(height),
		Difficulty:  big.NewInt(1),
		GasLimit:    30_000_000,
		Time:        height,
		Extra:       []byte{sl.fork},
		ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
	}
	block := types.NewBlockWithHeader(header)

	logIndex := uint(0)
	for i, r := range receipts {
		r.BlockHash = block.Hash()
		r.BlockNumber = new(big.Int).SetUint64(height)
		r.TransactionIndex = uint(i)
		for _, vlog := range r.Logs {
			vlog.BlockHash = block.Hash()
			vlog.BlockNumber = height
			vlog.TxHash = r.TxHash
			vlog.TxIndex = uint(i)
			vlog.Index = logIndex
			logIndex++
		}
	}

	sl.canonical = append(sl.canonical, block)
	sl.blocks[block.Hash()] = block
	sl.receipts[block.Hash()] = receipts
	return block
}

// NewTxReceipt returns a successful receipt without logs.
func NewTxReceipt(txHash ethcommon.Hash) *types.Receipt {
	return &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		TxHash:            txHash,
		Logs:              []*types.Log{},
	}
}

// NewReleaseRequestedReceipt returns a receipt of a random ledger tx whose
// only log is a release_requested event from the bridge.
func (sl *SimLedger) NewReleaseRequestedReceipt(creationTxID ethcommon.Hash, btcTxID chainhash.Hash, amount *big.Int) *types.Receipt {
	data, err := bridgeABI.Events["release_requested"].Inputs.NonIndexed().Pack(amount)
	if err != nil {
		panic(err)
	}

	r := NewTxReceipt(common.RandBytes32())
	r.Logs = []*types.Log{{
		Address: sl.bridgeAddress,
		Topics:  []ethcommon.Hash{ReleaseRequestedSignatureHash, creationTxID, ethcommon.Hash(btcTxID)},
		Data:    data,
	}}
	return r
}

// NewReleaseBtcReceipt returns a receipt whose only log is a release_btc
// event carrying tx.
func (sl *SimLedger) NewReleaseBtcReceipt(releaseTxID ethcommon.Hash, tx *wire.MsgTx) *types.Receipt {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	data, err := bridgeABI.Events["release_btc"].Inputs.NonIndexed().Pack(buf.Bytes())
	if err != nil {
		panic(err)
	}

	r := NewTxReceipt(common.RandBytes32())
	r.Logs = []*types.Log{{
		Address: sl.bridgeAddress,
		Topics:  []ethcommon.Hash{ReleaseBtcSignatureHash, releaseTxID},
		Data:    data,
	}}
	return r
}

func (sl *SimLedger) SetSyncing(syncing bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.syncing = syncing
}

func (sl *SimLedger) SetAwaiting(candidates ...*agreement.ReleaseCandidate) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.awaiting = candidates
}

func (sl *SimLedger) SetValidationRequest(req *agreement.ValidationRequest) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.validation = req
}

func (sl *SimLedger) SetSubmitError(err error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.submitErr = err
}

func (sl *SimLedger) Submissions() []*Submission {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return append([]*Submission{}, sl.submissions...)
}

// agreement.Bridge

func (sl *SimLedger) GetAwaitingSignatureRequests(ctx context.Context) ([]*agreement.ReleaseCandidate, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return append([]*agreement.ReleaseCandidate{}, sl.awaiting...), nil
}

func (sl *SimLedger) GetValidationRequest(ctx context.Context) (*agreement.ValidationRequest, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.validation, nil
}

func (sl *SimLedger) SubmitSignatures(ctx context.Context, pubKey []byte, sigs [][]byte, txID ethcommon.Hash) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.submitErr != nil {
		return sl.submitErr
	}
	sl.submissions = append(sl.submissions, &Submission{PubKey: pubKey, Sigs: sigs, TxID: txID})
	return nil
}

func (sl *SimLedger) HasNodeCaughtUpToNetwork(ctx context.Context) (bool, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return !sl.syncing, nil
}

func (sl *SimLedger) GetCurrentBestHeight(ctx context.Context) (uint64, error) {
	return sl.BlockNumber(ctx)
}

func (sl *SimLedger) GetTransactionBlockNumber(ctx context.Context, txID ethcommon.Hash) (uint64, error) {
	r, err := sl.TransactionReceipt(ctx, txID)
	if err != nil {
		return 0, err
	}
	return r.BlockNumber.Uint64(), nil
}

// agreement.ChainReader

func (sl *SimLedger) BlockNumber(ctx context.Context) (uint64, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return uint64(len(sl.canonical) - 1), nil
}

func (sl *SimLedger) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if number == nil {
		return sl.canonical[len(sl.canonical)-1], nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(sl.canonical)) {
		return nil, ethereum.NotFound
	}
	return sl.canonical[number.Uint64()], nil
}

func (sl *SimLedger) BlockByHash(ctx context.Context, hash ethcommon.Hash) (*types.Block, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	block, ok := sl.blocks[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return block, nil
}

func (sl *SimLedger) BlockReceipts(ctx context.Context, blockHash ethcommon.Hash) (types.Receipts, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	receipts, ok := sl.receipts[blockHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipts, nil
}

func (sl *SimLedger) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for _, block := range sl.canonical {
		for _, r := range sl.receipts[block.Hash()] {
			if r.TxHash == txHash {
				return r, nil
			}
		}
	}
	return nil, ethereum.NotFound
}

var (
	_ agreement.Bridge      = (*SimLedger)(nil)
	_ agreement.ChainReader = (*SimLedger)(nil)
)
