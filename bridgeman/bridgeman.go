package bridgeman

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	logger "github.com/sirupsen/logrus"
)

var ErrInconsistentResponse = errors.New("bridge returned arrays of different lengths")

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainSyncReader
	ethereum.BlockNumberReader
	ethereum.TransactionReader
	bind.ContractBackend

	BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Bridgeman talks to the bridge contract through a ledger node.
// It implements agreement.Bridge and agreement.ChainReader.
type Bridgeman struct {
	ethClient     ethereumClient
	bridgeAddress ethcommon.Address
	contract      *bind.BoundContract
	submitter     *ecdsa.PrivateKey
	chainID       *big.Int
}

func NewBridgeman(cfg *Config) (*Bridgeman, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	return newBridgeman(ethClient, cfg)
}

func newBridgeman(ethClient ethereumClient, cfg *Config) (*Bridgeman, error) {
	bm := &Bridgeman{
		ethClient:     ethClient,
		bridgeAddress: cfg.BridgeContractAddress,
		contract:      bind.NewBoundContract(cfg.BridgeContractAddress, bridgeABI, ethClient, ethClient, ethClient),
		chainID:       cfg.ChainID,
	}

	if cfg.SubmitterPrivateKey != "" {
		sk, err := crypto.HexToECDSA(common.Trim0xPrefix(cfg.SubmitterPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("invalid submitter key: %w", err)
		}
		bm.submitter = sk
	}

	return bm, nil
}

func (bm *Bridgeman) BridgeAddress() ethcommon.Address {
	return bm.bridgeAddress
}

func (bm *Bridgeman) GetAwaitingSignatureRequests(ctx context.Context) ([]*agreement.ReleaseCandidate, error) {
	var out []interface{}
	if err := bm.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAwaitingSignatures"); err != nil {
		return nil, err
	}

	creations := out[0].([][32]byte)
	confirmations := out[1].([][32]byte)
	rawTxs := out[2].([][]byte)
	if len(creations) != len(confirmations) || len(creations) != len(rawTxs) {
		return nil, ErrInconsistentResponse
	}

	candidates := make([]*agreement.ReleaseCandidate, 0, len(rawTxs))
	for i, raw := range rawTxs {
		tx, err := decodeBtcTx(raw)
		if err != nil {
			logger.WithFields(logger.Fields{
				"creationTxId": ethcommon.Hash(creations[i]).Hex(),
				"err":          err,
			}).Warn("skipping undecodable btc tx from bridge")
			continue
		}
		candidates = append(candidates, &agreement.ReleaseCandidate{
			CreationTxID:     creations[i],
			ConfirmationTxID: confirmations[i],
			Tx:               tx,
		})
	}
	return candidates, nil
}

func (bm *Bridgeman) GetValidationRequest(ctx context.Context) (*agreement.ValidationRequest, error) {
	var out []interface{}
	if err := bm.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getValidationSpendWaitingForSignatures"); err != nil {
		return nil, err
	}

	creation := ethcommon.Hash(out[0].([32]byte))
	originBlock := out[1].(*big.Int)
	raw := out[2].([]byte)
	if creation == (ethcommon.Hash{}) || len(raw) == 0 {
		return nil, nil
	}

	tx, err := decodeBtcTx(raw)
	if err != nil {
		return nil, err
	}
	return &agreement.ValidationRequest{
		CreationTxID: creation,
		OriginBlock:  originBlock.Uint64(),
		Tx:           tx,
	}, nil
}

func (bm *Bridgeman) SubmitSignatures(ctx context.Context, pubKey []byte, sigs [][]byte, txID ethcommon.Hash) error {
	opts, err := bm.transactOpts(ctx)
	if err != nil {
		return err
	}

	tx, err := bm.contract.Transact(opts, "addSignature", pubKey, sigs, [32]byte(txID))
	if err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"creationTxId": txID.Hex(),
		"ledgerTx":     tx.Hash().Hex(),
	}).Debug("signatures submitted")
	return nil
}

func (bm *Bridgeman) HasNodeCaughtUpToNetwork(ctx context.Context) (bool, error) {
	progress, err := bm.ethClient.SyncProgress(ctx)
	if err != nil {
		return false, err
	}
	return progress == nil, nil
}

func (bm *Bridgeman) GetCurrentBestHeight(ctx context.Context) (uint64, error) {
	return bm.ethClient.BlockNumber(ctx)
}

func (bm *Bridgeman) GetTransactionBlockNumber(ctx context.Context, txID ethcommon.Hash) (uint64, error) {
	receipt, err := bm.ethClient.TransactionReceipt(ctx, txID)
	if err != nil {
		return 0, err
	}
	return receipt.BlockNumber.Uint64(), nil
}

func (bm *Bridgeman) BlockNumber(ctx context.Context) (uint64, error) {
	return bm.ethClient.BlockNumber(ctx)
}

func (bm *Bridgeman) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return bm.ethClient.BlockByNumber(ctx, number)
}

func (bm *Bridgeman) BlockByHash(ctx context.Context, hash ethcommon.Hash) (*types.Block, error) {
	return bm.ethClient.BlockByHash(ctx, hash)
}

func (bm *Bridgeman) BlockReceipts(ctx context.Context, blockHash ethcommon.Hash) (types.Receipts, error) {
	return bm.ethClient.BlockReceipts(ctx, rpc.BlockNumberOrHashWithHash(blockHash, false))
}

func (bm *Bridgeman) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	return bm.ethClient.TransactionReceipt(ctx, txHash)
}

func (bm *Bridgeman) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if bm.submitter == nil {
		return nil, errors.New("no submitter key configured")
	}

	if bm.chainID == nil {
		chainID, err := bm.ethClient.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		bm.chainID = chainID
	}

	opts, err := bind.NewKeyedTransactorWithChainID(bm.submitter, bm.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func decodeBtcTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

var (
	_ agreement.Bridge      = (*Bridgeman)(nil)
	_ agreement.ChainReader = (*Bridgeman)(nil)
)
