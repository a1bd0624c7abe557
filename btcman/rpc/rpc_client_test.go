package rpc

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	sent  []*wire.MsgTx
	err   error
	delay time.Duration
}

func (fn *fakeNode) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	time.Sleep(fn.delay)
	if fn.err != nil {
		return nil, fn.err
	}
	fn.sent = append(fn.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (fn *fakeNode) GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	for _, tx := range fn.sent {
		if tx.TxHash() == *txHash {
			return btcutil.NewTx(tx), nil
		}
	}
	return nil, errors.New("not found")
}

func (fn *fakeNode) Shutdown() {}

func newTx(t *testing.T) *wire.MsgTx {
	fed, err := federation.NewSimFederation("test", 3, 2)
	require.NoError(t, err)
	tx, err := fed.NewSpendTx(1, nil)
	require.NoError(t, err)
	return tx
}

func TestIsAlreadyKnown(t *testing.T) {
	assert.False(t, IsAlreadyKnown(nil))
	assert.False(t, IsAlreadyKnown(errors.New("bad-txns-inputs-missingorspent")))
	assert.False(t, IsAlreadyKnown(&btcjson.RPCError{Code: -26, Message: "min relay fee not met"}))

	assert.True(t, IsAlreadyKnown(&btcjson.RPCError{Code: -27, Message: "Transaction already in block chain"}))
	assert.True(t, IsAlreadyKnown(&btcjson.RPCError{Code: -26, Message: "txn-already-in-mempool"}))
	assert.True(t, IsAlreadyKnown(errors.New("-26: TXN-ALREADY-KNOWN")))
}

func TestBroadcast(t *testing.T) {
	node := &fakeNode{}
	r := &RpcClient{client: node}
	tx := newTx(t)

	require.NoError(t, r.Broadcast(context.Background(), tx))
	require.Len(t, node.sent, 1)

	got, err := r.GetTx(tx.TxHash().String())
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), *got.Hash())

	node.err = &btcjson.RPCError{Code: -27, Message: "Transaction already in block chain"}
	assert.NoError(t, r.Broadcast(context.Background(), tx))

	node.err = &btcjson.RPCError{Code: -25, Message: "bad-txns-inputs-missingorspent"}
	assert.Error(t, r.Broadcast(context.Background(), tx))
}

func TestBroadcastContext(t *testing.T) {
	r := &RpcClient{client: &fakeNode{delay: time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Broadcast(ctx, newTx(t)), context.DeadlineExceeded)
}

// Needs a regtest node, see SERVER, PORT, USER and PASS.
func TestBroadcastRegtest(t *testing.T) {
	server, port := os.Getenv("SERVER"), os.Getenv("PORT")
	user, pass := os.Getenv("USER"), os.Getenv("PASS")
	if server == "" || port == "" || user == "" || pass == "" {
		t.Skip("no bitcoin node configured")
	}

	r, err := NewRpcClient(&RpcClientConfig{ServerAddr: server, Port: port, Username: user, Pwd: pass})
	require.NoError(t, err)
	defer r.Close()

	// spends random outpoints, so the node must reject it
	assert.Error(t, r.Broadcast(context.Background(), newTx(t)))
}
