// Global agreement on types shared by the federator components.

package agreement

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReleaseCandidate is a transfer request the bridge reports as
// waiting for federator signatures. It is rebuilt on every tick.
type ReleaseCandidate struct {
	// ledger tx that first raised the request
	CreationTxID common.Hash
	// ledger tx that declared the request ready for signing
	ConfirmationTxID common.Hash
	// unsigned btc tx, inputs may already carry other federators' signatures
	Tx *wire.MsgTx
}

// ID returns the creation hash, falling back to the confirmation hash
// for requests the bridge only tracks by confirmation.
func (c *ReleaseCandidate) ID() common.Hash {
	if c.CreationTxID != (common.Hash{}) {
		return c.CreationTxID
	}
	return c.ConfirmationTxID
}

// SubmitID is the id signatures are submitted under: the confirmation
// hash the bridge reported, or ID when it reported none.
func (c *ReleaseCandidate) SubmitID() common.Hash {
	if c.ConfirmationTxID != (common.Hash{}) {
		return c.ConfirmationTxID
	}
	return c.ID()
}

func (c *ReleaseCandidate) String() string {
	return fmt.Sprintf("{creation=%s confirmation=%s btcTx=%s}",
		c.CreationTxID.Hex(), c.ConfirmationTxID.Hex(), c.Tx.TxHash())
}

// ValidationRequest is the special spend the bridge asks the federation to
// sign to prove it still controls its funds. It outranks every other request
// once OriginBlock has enough confirmations.
type ValidationRequest struct {
	CreationTxID common.Hash
	OriginBlock  uint64
	Tx           *wire.MsgTx
}

// BlockEvent carries a ledger block together with its receipts.
type BlockEvent struct {
	Block    *types.Block
	Receipts types.Receipts
}

func (ev *BlockEvent) Number() uint64 {
	return ev.Block.NumberU64()
}

// ReleaseRequestedEvent ties a btc transaction id to the ledger tx that
// created the transfer request.
type ReleaseRequestedEvent struct {
	CreationTxID common.Hash
	BtcTxID      chainhash.Hash
	Amount       *big.Int
	BlockNumber  uint64
	BlockHash    common.Hash
	// position of the receipt holding the log inside the block
	ReceiptIndex uint
}

func (ev *ReleaseRequestedEvent) String() string {
	return fmt.Sprintf("%+v", *ev)
}

// ReleaseBroadcastableEvent is emitted once the bridge has gathered enough
// signatures and the btc tx is complete.
type ReleaseBroadcastableEvent struct {
	ReleaseTxID common.Hash
	Tx          *wire.MsgTx
	BlockNumber uint64
}
