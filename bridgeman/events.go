package bridgeman

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrMalformedEvent = errors.New("malformed bridge event")

// EventParser extracts bridge events from receipts. Logs emitted by other
// contracts are ignored.
type EventParser struct {
	bridgeAddress ethcommon.Address
}

func NewEventParser(bridgeAddress ethcommon.Address) *EventParser {
	return &EventParser{bridgeAddress: bridgeAddress}
}

func (p *EventParser) BridgeAddress() ethcommon.Address {
	return p.bridgeAddress
}

// ReleaseRequested decodes a release_requested log. The second return
// value is false for any other log.
func (p *EventParser) ReleaseRequested(vlog *types.Log) (*agreement.ReleaseRequestedEvent, bool, error) {
	if !p.isBridgeEvent(vlog, ReleaseRequestedSignatureHash) {
		return nil, false, nil
	}
	if len(vlog.Topics) != 3 {
		return nil, true, fmt.Errorf("%w: release_requested with %d topics", ErrMalformedEvent, len(vlog.Topics))
	}

	out, err := bridgeABI.Unpack("release_requested", vlog.Data)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, true, fmt.Errorf("%w: release_requested amount", ErrMalformedEvent)
	}

	return &agreement.ReleaseRequestedEvent{
		CreationTxID: vlog.Topics[1],
		BtcTxID:      chainhash.Hash(vlog.Topics[2]),
		Amount:       amount,
		BlockNumber:  vlog.BlockNumber,
		BlockHash:    vlog.BlockHash,
	}, true, nil
}

// ReleaseBroadcastable decodes a release_btc log carrying a fully signed tx.
func (p *EventParser) ReleaseBroadcastable(vlog *types.Log) (*agreement.ReleaseBroadcastableEvent, bool, error) {
	if !p.isBridgeEvent(vlog, ReleaseBtcSignatureHash) {
		return nil, false, nil
	}
	if len(vlog.Topics) != 2 {
		return nil, true, fmt.Errorf("%w: release_btc with %d topics", ErrMalformedEvent, len(vlog.Topics))
	}

	out, err := bridgeABI.Unpack("release_btc", vlog.Data)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	raw, ok := out[0].([]byte)
	if !ok {
		return nil, true, fmt.Errorf("%w: release_btc payload", ErrMalformedEvent)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, true, fmt.Errorf("%w: invalid btc tx: %v", ErrMalformedEvent, err)
	}

	return &agreement.ReleaseBroadcastableEvent{
		ReleaseTxID: vlog.Topics[1],
		Tx:          tx,
		BlockNumber: vlog.BlockNumber,
	}, true, nil
}

// ReleaseRequestedInReceipts collects every release_requested event in
// receipts, remembering which receipt each came from. Malformed logs are
// returned as an error together with the events decoded so far.
func (p *EventParser) ReleaseRequestedInReceipts(receipts types.Receipts) ([]*agreement.ReleaseRequestedEvent, error) {
	var (
		evs  []*agreement.ReleaseRequestedEvent
		errs []error
	)
	for i, receipt := range receipts {
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for _, vlog := range receipt.Logs {
			ev, ok, err := p.ReleaseRequested(vlog)
			if !ok {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			ev.ReceiptIndex = uint(i)
			evs = append(evs, ev)
		}
	}
	return evs, errors.Join(errs...)
}

// ReleaseBroadcastableInReceipts is the release_btc counterpart of
// ReleaseRequestedInReceipts.
func (p *EventParser) ReleaseBroadcastableInReceipts(receipts types.Receipts) ([]*agreement.ReleaseBroadcastableEvent, error) {
	var (
		evs  []*agreement.ReleaseBroadcastableEvent
		errs []error
	)
	for _, receipt := range receipts {
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for _, vlog := range receipt.Logs {
			ev, ok, err := p.ReleaseBroadcastable(vlog)
			if !ok {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			evs = append(evs, ev)
		}
	}
	return evs, errors.Join(errs...)
}

func (p *EventParser) isBridgeEvent(vlog *types.Log, sig ethcommon.Hash) bool {
	return vlog.Address == p.bridgeAddress && len(vlog.Topics) > 0 && vlog.Topics[0] == sig
}
