package agreement

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bridge is what the federator needs from the bridge contract on the ledger.
type Bridge interface {
	// Requests waiting for signatures, in the order the bridge keeps them.
	GetAwaitingSignatureRequests(ctx context.Context) ([]*ReleaseCandidate, error)

	// Returns nil when there is no pending validation spend.
	GetValidationRequest(ctx context.Context) (*ValidationRequest, error)

	// One signature per input, in input order.
	SubmitSignatures(ctx context.Context, pubKey []byte, sigs [][]byte, txID common.Hash) error

	HasNodeCaughtUpToNetwork(ctx context.Context) (bool, error)

	GetCurrentBestHeight(ctx context.Context) (uint64, error)

	// Number of the block that included the given ledger tx.
	GetTransactionBlockNumber(ctx context.Context, txID common.Hash) (uint64, error)
}

// ChainReader is the read-only subset of ethclient the federator walks
// the ledger with. A missing block or receipt is reported as ethereum.NotFound.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	BlockReceipts(ctx context.Context, blockHash common.Hash) (types.Receipts, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Broadcaster relays a fully signed btc tx to the btc network.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// Alerter is notified of failures an operator should look at.
// None of them stop the federator.
type Alerter interface {
	SigningFailed(creationTxID common.Hash, err error)
	PreSigningFailed(creationTxID common.Hash, err error)
	BroadcastFailed(releaseTxID common.Hash, err error)
}
