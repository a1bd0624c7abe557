// Package attestation gathers the material a signing appliance needs to
// check, on its own, that a release was really requested on the ledger.
package attestation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

const (
	DefaultMaxForwardSearch = 100
	receiptsCacheSize       = 256
)

// Payload is what the appliance receives besides the sighash.
// Proof is nil for protocol version 1.
type Payload struct {
	Version      int
	CreationTxID ethcommon.Hash
	Tx           *wire.MsgTx
	Proof        *ReceiptProof
}

// LookupError means the release_requested event for BtcTxID could not be
// found in [From, To].
type LookupError struct {
	CreationTxID ethcommon.Hash
	BtcTxID      chainhash.Hash
	From         uint64
	To           uint64
	Err          error
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("release_requested for btc tx %s (creation %s) not found in blocks %d..%d",
		e.BtcTxID, e.CreationTxID.Hex(), e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

type Provider interface {
	GetAttestationPayload(
		ctx context.Context,
		version int,
		creationTxID ethcommon.Hash,
		tx *wire.MsgTx,
		confirmationTxID ethcommon.Hash,
	) (*Payload, error)
}

// ReceiptProvider proves the release_requested receipt. The search starts
// at the block of the creation tx and goes forward at most maxForwardSearch
// blocks, since the event can be logged in a later block than the request.
type ReceiptProvider struct {
	chain            agreement.ChainReader
	parser           *bridgeman.EventParser
	maxForwardSearch uint64
	receipts         *lru.Cache[ethcommon.Hash, types.Receipts]
}

func NewReceiptProvider(chain agreement.ChainReader, parser *bridgeman.EventParser, maxForwardSearch uint64) *ReceiptProvider {
	return &ReceiptProvider{
		chain:            chain,
		parser:           parser,
		maxForwardSearch: maxForwardSearch,
		receipts:         lru.NewCache[ethcommon.Hash, types.Receipts](receiptsCacheSize),
	}
}

func (rp *ReceiptProvider) GetAttestationPayload(
	ctx context.Context,
	version int,
	creationTxID ethcommon.Hash,
	tx *wire.MsgTx,
	confirmationTxID ethcommon.Hash,
) (*Payload, error) {
	payload := &Payload{
		Version:      version,
		CreationTxID: creationTxID,
		Tx:           tx,
	}
	if version < 2 {
		return payload, nil
	}

	btcTxID := tx.TxHash()
	lookupErr := &LookupError{CreationTxID: creationTxID, BtcTxID: btcTxID}

	creation, err := rp.chain.TransactionReceipt(ctx, creationTxID)
	if err != nil {
		lookupErr.Err = err
		return nil, lookupErr
	}
	from := creation.BlockNumber.Uint64()
	lookupErr.From, lookupErr.To = from, from

	best, err := rp.chain.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	to := from + rp.maxForwardSearch
	if to > best {
		to = best
	}
	lookupErr.To = to

	for n := from; n <= to; n++ {
		block, err := rp.chain.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			lookupErr.Err = err
			return nil, lookupErr
		}
		receipts, err := rp.blockReceipts(ctx, block.Hash())
		if err != nil {
			lookupErr.Err = err
			return nil, lookupErr
		}

		idx, ok := rp.findReleaseRequested(receipts, btcTxID)
		if !ok {
			continue
		}

		proof, err := BuildReceiptProof(block, receipts, idx)
		if err != nil {
			return nil, err
		}
		payload.Proof = proof

		logger.WithFields(logger.Fields{
			"btcTxId":  btcTxID.String(),
			"block":    n,
			"receipt":  idx,
			"searched": n - from + 1,
		}).Debug("release_requested receipt proven")
		return payload, nil
	}

	return nil, lookupErr
}

func (rp *ReceiptProvider) findReleaseRequested(receipts types.Receipts, btcTxID chainhash.Hash) (int, bool) {
	evs, err := rp.parser.ReleaseRequestedInReceipts(receipts)
	if err != nil {
		logger.WithField("err", err).Warn("malformed bridge events while searching release_requested")
	}
	for _, ev := range evs {
		if ev.BtcTxID == btcTxID {
			return int(ev.ReceiptIndex), true
		}
	}
	return 0, false
}

func (rp *ReceiptProvider) blockReceipts(ctx context.Context, hash ethcommon.Hash) (types.Receipts, error) {
	if receipts, ok := rp.receipts.Get(hash); ok {
		return receipts, nil
	}
	receipts, err := rp.chain.BlockReceipts(ctx, hash)
	if err != nil {
		return nil, err
	}
	rp.receipts.Add(hash, receipts)
	return receipts, nil
}
