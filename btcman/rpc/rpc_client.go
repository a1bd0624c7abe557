package rpc

import (
	"context"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"
)

// bitcoind answers sendrawtransaction with -27 once the tx is mined
const codeAlreadyInChain btcjson.RPCErrorCode = -27

var alreadyKnownReasons = []string{
	"txn-already-known",
	"txn-already-in-mempool",
	"transaction already in block chain",
	"already have transaction",
}

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
}

type btcNode interface {
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
	Shutdown()
}

// RpcClient pushes released transactions to a bitcoin node.
type RpcClient struct {
	client btcNode
}

func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)
	if err != nil {
		return nil, err
	}

	return &RpcClient{client: client}, nil
}

func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// GetTx fetches a raw tx. The node needs -txindex.
func (r *RpcClient) GetTx(txID string) (*btcutil.Tx, error) {
	txHash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, err
	}
	return r.client.GetRawTransaction(txHash)
}

// Broadcast sends tx to the network. A tx the node already has, in its
// mempool or in a block, counts as broadcast.
func (r *RpcClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	done := make(chan error, 1)
	go func() {
		// allowHighFees: the federation already agreed on the fee
		_, err := r.client.SendRawTransaction(tx, true)
		done <- err
	}()

	var err error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-done:
	}

	if err != nil && !IsAlreadyKnown(err) {
		return err
	}
	if err != nil {
		logger.WithFields(logger.Fields{
			"btcTxId": tx.TxHash().String(),
			"err":     err,
		}).Debug("btc node already knows the tx")
	}
	return nil
}

// IsAlreadyKnown reports whether err is the node refusing a tx it has
// already accepted.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeAlreadyInChain {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, reason := range alreadyKnownReasons {
		if strings.Contains(msg, reason) {
			return true
		}
	}
	return false
}
