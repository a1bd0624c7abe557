package releaser

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

type resolveKind int

const (
	resolved resolveKind = iota
	alreadySigned
	cannotSign
	lookupFailed
)

func (k resolveKind) String() string {
	switch k {
	case resolved:
		return "resolved"
	case alreadySigned:
		return "already_signed"
	case cannotSign:
		return "cannot_sign"
	case lookupFailed:
		return "lookup_failed"
	default:
		return "unknown"
	}
}

// readyRelease is a candidate this node can and should sign.
type readyRelease struct {
	creationTxID     ethcommon.Hash
	confirmationTxID ethcommon.Hash
	// key the bridge lists the request under
	submitTxID ethcommon.Hash
	// signature-free form, its hash is the btc tx id
	tx          *wire.MsgTx
	btcTxID     chainhash.Hash
	blockNumber uint64
	federation  *federation.Federation
}

type resolveResult struct {
	kind  resolveKind
	ready *readyRelease
	err   error
}

// knownBlock is set for the validation spend whose origin block the
// bridge reports directly.
func (s *Service) resolve(ctx context.Context, c *agreement.ReleaseCandidate, pubKey *btcec.PublicKey, knownBlock *uint64) resolveResult {
	fed, normalized, err := s.resolver.Resolve(c.Tx)
	if err != nil {
		return resolveResult{kind: cannotSign, err: err}
	}

	btcTxID := normalized.TxHash()
	creationTxID := c.ID()
	if indexed, ok := s.index.Get(btcTxID); ok {
		creationTxID = indexed
	}

	if s.signed.Has(creationTxID) {
		return resolveResult{kind: alreadySigned}
	}
	if federation.HasSignatureFrom(c.Tx, pubKey) {
		return resolveResult{kind: alreadySigned}
	}

	var blockNumber uint64
	if knownBlock != nil {
		blockNumber = *knownBlock
	} else {
		blockNumber, err = s.bridge.GetTransactionBlockNumber(ctx, creationTxID)
		if err != nil {
			return resolveResult{kind: lookupFailed, err: err}
		}
	}

	return resolveResult{
		kind: resolved,
		ready: &readyRelease{
			creationTxID:     creationTxID,
			confirmationTxID: c.ConfirmationTxID,
			submitTxID:       c.SubmitID(),
			tx:               normalized,
			btcTxID:          btcTxID,
			blockNumber:      blockNumber,
			federation:       fed,
		},
	}
}

// sortReady orders oldest first, or newest first when configured.
// Ties are broken by creation tx id so the choice is deterministic.
func sortReady(ready []*readyRelease, newestFirst bool) {
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.blockNumber != b.blockNumber {
			if newestFirst {
				return a.blockNumber > b.blockNumber
			}
			return a.blockNumber < b.blockNumber
		}
		return bytes.Compare(a.creationTxID[:], b.creationTxID[:]) < 0
	})
}

func logSkipped(c *agreement.ReleaseCandidate, res resolveResult) {
	fields := logger.Fields{
		"creationTxId": c.ID().Hex(),
		"reason":       res.kind.String(),
	}
	if res.err != nil {
		fields["err"] = res.err
	}

	switch res.kind {
	case alreadySigned:
		logger.WithFields(fields).Debug("skipping release request")
	case cannotSign:
		if errors.Is(res.err, federation.ErrCannotSign) {
			logger.WithFields(fields).Debug("skipping release request")
			return
		}
		logger.WithFields(fields).Warn("skipping release request")
	default:
		logger.WithFields(fields).Warn("skipping release request")
	}
}
