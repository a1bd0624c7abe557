// Package signers talks to the signing appliance that holds this
// federator's btc key.
package signers

import (
	"context"
	"errors"

	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownKey         = errors.New("unknown key id")
	ErrMissingAttestation = errors.New("message carries no attestation")
	ErrSigHashMismatch    = errors.New("sighash does not match tx")
	ErrAncestorMismatch   = errors.New("proof block is not the appliance ancestor")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrMalformedAppliance = errors.New("malformed appliance response")
	ErrUnrelatedProof     = errors.New("proven receipt does not mention the btc tx")
)

// Appliance signs btc sighashes with keys it never reveals.
type Appliance interface {
	// DER signature without sighash type byte
	Sign(ctx context.Context, keyID string, msg *Message) ([]byte, error)
	ProtocolVersion(ctx context.Context) (int, error)
	PublicKey(ctx context.Context, keyID string) (*btcec.PublicKey, error)
}

// AncestorUpdater is implemented by appliances that must be told which
// ledger block they validate proofs against before signing (version 2+).
type AncestorUpdater interface {
	EnsureAncestor(ctx context.Context, version int, blockHash ethcommon.Hash) error
}

// Message is what gets signed for one input. Version 1 appliances only get
// the sighash, later versions also get the tx and the receipt proof.
type Message struct {
	Version    int
	InputIndex int
	SigHash    []byte
	Tx         *wire.MsgTx
	Proof      *attestation.ReceiptProof
}

func NewMessage(payload *attestation.Payload, inputIndex int, sigHash []byte) *Message {
	msg := &Message{
		Version:    payload.Version,
		InputIndex: inputIndex,
		SigHash:    sigHash,
	}
	if payload.Version >= 2 {
		msg.Tx = payload.Tx
		msg.Proof = payload.Proof
	}
	return msg
}
