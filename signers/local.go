package signers

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

// LocalAppliance keeps the keys in memory. It applies the same checks as a
// hardware appliance, which makes it usable for tests and regtest setups.
type LocalAppliance struct {
	mu       sync.Mutex
	keys     map[string]*btcec.PrivateKey
	version  int
	ancestor ethcommon.Hash
}

func NewLocalAppliance(version int, keys map[string]*btcec.PrivateKey) (*LocalAppliance, error) {
	if version < 1 || version > 3 {
		return nil, ErrUnsupportedVersion
	}
	return &LocalAppliance{
		keys:    keys,
		version: version,
	}, nil
}

func (la *LocalAppliance) ProtocolVersion(ctx context.Context) (int, error) {
	return la.version, nil
}

func (la *LocalAppliance) PublicKey(ctx context.Context, keyID string) (*btcec.PublicKey, error) {
	sk, ok := la.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	return sk.PubKey(), nil
}

func (la *LocalAppliance) EnsureAncestor(ctx context.Context, version int, blockHash ethcommon.Hash) error {
	if version != la.version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	la.mu.Lock()
	defer la.mu.Unlock()
	la.ancestor = blockHash
	return nil
}

func (la *LocalAppliance) Ancestor() ethcommon.Hash {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.ancestor
}

func (la *LocalAppliance) Sign(ctx context.Context, keyID string, msg *Message) ([]byte, error) {
	sk, ok := la.keys[keyID]
	if !ok {
		return nil, ErrUnknownKey
	}
	if msg.Version != la.version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.Version)
	}

	if msg.Version >= 2 {
		if err := la.checkAttestation(msg); err != nil {
			logger.WithFields(logger.Fields{
				"keyId": keyID,
				"input": msg.InputIndex,
				"err":   err,
			}).Warn("appliance refused to sign")
			return nil, err
		}
	}

	return ecdsa.Sign(sk, msg.SigHash).Serialize(), nil
}

func (la *LocalAppliance) checkAttestation(msg *Message) error {
	if msg.Tx == nil || msg.Proof == nil {
		return ErrMissingAttestation
	}

	if msg.Proof.BlockHash != la.Ancestor() {
		return ErrAncestorMismatch
	}
	receipt, err := msg.Proof.Verify()
	if err != nil {
		return err
	}
	if !mentionsBtcTx(receipt.Logs, msg.Tx.TxHash()) {
		return ErrUnrelatedProof
	}

	sigHash, err := federation.SigHash(msg.Tx, msg.InputIndex)
	if err != nil {
		return err
	}
	if !bytes.Equal(sigHash, msg.SigHash) {
		return ErrSigHashMismatch
	}
	return nil
}

func mentionsBtcTx(logs []*types.Log, btcTxID chainhash.Hash) bool {
	for _, vlog := range logs {
		if len(vlog.Topics) == 3 && vlog.Topics[2] == ethcommon.Hash(btcTxID) {
			return true
		}
	}
	return false
}

var (
	_ Appliance       = (*LocalAppliance)(nil)
	_ AncestorUpdater = (*LocalAppliance)(nil)
)
