// Package releaser signs pending release requests on every new best block
// and broadcasts the btc transactions the bridge has finished.
package releaser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TEENet-io/pegout-federator/agreement"
	"github.com/TEENet-io/pegout-federator/attestation"
	"github.com/TEENet-io/pegout-federator/bridgeman"
	"github.com/TEENet-io/pegout-federator/federation"
	"github.com/TEENet-io/pegout-federator/monitoring"
	"github.com/TEENet-io/pegout-federator/signers"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

var ErrNothingToSign = errors.New("no release request ready to sign")

// Index resolves btc tx ids to the ledger tx that created the request.
type Index interface {
	Get(btcTxID chainhash.Hash) (ethcommon.Hash, bool)
}

// SignedCache remembers what this node has already signed.
type SignedCache interface {
	Has(creationTxID ethcommon.Hash) bool
	Put(creationTxID ethcommon.Hash)
}

// IndexSync is the release index synchronizer.
type IndexSync interface {
	IsSynced() bool
	ProcessBlock(block *types.Block, receipts types.Receipts)
}

type Params struct {
	Bridge       agreement.Bridge
	Resolver     *federation.Resolver
	Index        Index
	Signed       SignedCache
	Sync         IndexSync
	Attestations attestation.Provider
	Appliance    signers.Appliance
	Broadcaster  agreement.Broadcaster
	Parser       *bridgeman.EventParser
	Alerter      agreement.Alerter
	Metrics      *monitoring.Metrics
}

type Service struct {
	cfg *Config

	bridge       agreement.Bridge
	resolver     *federation.Resolver
	index        Index
	signed       SignedCache
	sync         IndexSync
	attestations attestation.Provider
	appliance    signers.Appliance
	broadcaster  agreement.Broadcaster
	parser       *bridgeman.EventParser
	alerter      agreement.Alerter
	metrics      *monitoring.Metrics

	pubKeyMu sync.Mutex
	pubKey   *btcec.PublicKey
}

func New(cfg *Config, p *Params) (*Service, error) {
	if p.Bridge == nil || p.Resolver == nil || p.Index == nil || p.Signed == nil ||
		p.Sync == nil || p.Attestations == nil || p.Appliance == nil ||
		p.Broadcaster == nil || p.Parser == nil {
		return nil, errors.New("missing releaser dependency")
	}

	alerter := p.Alerter
	if alerter == nil {
		alerter = monitoring.NewLogAlerter(p.Metrics)
	}

	return &Service{
		cfg:          cfg,
		bridge:       p.Bridge,
		resolver:     p.Resolver,
		index:        p.Index,
		signed:       p.Signed,
		sync:         p.Sync,
		attestations: p.Attestations,
		appliance:    p.Appliance,
		broadcaster:  p.Broadcaster,
		parser:       p.Parser,
		alerter:      alerter,
		metrics:      p.Metrics,
	}, nil
}

// Loop consumes both block streams on a single goroutine so events are
// handled one at a time, in arrival order.
func (s *Service) Loop(ctx context.Context, best, all <-chan *agreement.BlockEvent) error {
	logger.Debug("starting releaser")
	defer logger.Debug("stopping releaser")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-best:
			if !ok {
				return nil
			}
			s.OnBestBlock(ctx, ev)
		case ev, ok := <-all:
			if !ok {
				return nil
			}
			s.OnBlock(ctx, ev)
		}
	}
}

// OnBestBlock feeds the index and, when everything is in sync, runs one
// signing tick.
func (s *Service) OnBestBlock(ctx context.Context, ev *agreement.BlockEvent) {
	s.sync.ProcessBlock(ev.Block, ev.Receipts)
	s.metrics.BlockProcessed(ev.Number())

	if !s.cfg.Enabled {
		return
	}
	if !s.sync.IsSynced() {
		logger.Debug("release index not synced yet, not signing")
		return
	}
	caughtUp, err := s.bridge.HasNodeCaughtUpToNetwork(ctx)
	if err != nil {
		logger.WithField("err", err).Warn("failed to check ledger node sync status")
		return
	}
	if !caughtUp {
		logger.Debug("ledger node still syncing, not signing")
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	if err := s.Tick(tickCtx, ev.Number()); err != nil && !errors.Is(err, ErrNothingToSign) {
		logger.WithFields(logger.Fields{
			"block": ev.Number(),
			"err":   err,
		}).Warn("signing tick failed")
	}
	s.metrics.TickDone(time.Since(start).Seconds())
}

// Tick signs at most one release request.
func (s *Service) Tick(ctx context.Context, bestHeight uint64) error {
	// 1. Know who we are
	// 2. Collect candidates, the validation spend outranks everything
	// 3. Resolve and filter them
	// 4. Pick the first one that can be attested
	// 5. Sign every input and submit

	// 1. Know who we are
	pubKey, err := s.publicKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to get public key from appliance: %w", err)
	}

	// 2. Collect candidates
	candidates, knownBlock, err := s.collectCandidates(ctx, bestHeight)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return ErrNothingToSign
	}

	// 3. Resolve and filter
	ready := make([]*readyRelease, 0, len(candidates))
	for _, c := range candidates {
		res := s.resolve(ctx, c, pubKey, knownBlock)
		if res.kind != resolved {
			logSkipped(c, res)
			s.metrics.CandidateSkipped(res.kind.String())
			continue
		}
		ready = append(ready, res.ready)
	}
	if len(ready) == 0 {
		return ErrNothingToSign
	}

	// 4. Pick the first one that can be attested
	sortReady(ready, s.cfg.NewestFirst)

	version, err := s.appliance.ProtocolVersion(ctx)
	if err != nil {
		s.alerter.SigningFailed(ready[0].creationTxID, err)
		return fmt.Errorf("failed to get protocol version: %w", err)
	}

	var lastErr error
	for _, r := range ready {
		payload, err := s.prepare(ctx, version, r)
		if err != nil {
			logger.WithFields(logger.Fields{
				"creationTxId": r.creationTxID.Hex(),
				"btcTxId":      r.btcTxID.String(),
				"err":          err,
			}).Warn("release request cannot be attested, trying the next one")
			s.metrics.CandidateSkipped(lookupFailed.String())
			lastErr = err
			continue
		}

		// 5. Sign and submit
		return s.signAndSubmit(ctx, r, payload, pubKey)
	}
	return lastErr
}

func (s *Service) collectCandidates(ctx context.Context, bestHeight uint64) ([]*agreement.ReleaseCandidate, *uint64, error) {
	validation, err := s.bridge.GetValidationRequest(ctx)
	if err != nil {
		logger.WithField("err", err).Warn("failed to get validation request")
	}
	if validation != nil && bestHeight >= validation.OriginBlock &&
		bestHeight-validation.OriginBlock >= s.cfg.MinValidationConfirmations {
		origin := validation.OriginBlock
		return []*agreement.ReleaseCandidate{{
			CreationTxID:     validation.CreationTxID,
			ConfirmationTxID: validation.CreationTxID,
			Tx:               validation.Tx,
		}}, &origin, nil
	}

	candidates, err := s.bridge.GetAwaitingSignatureRequests(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get release requests: %w", err)
	}
	return candidates, nil, nil
}

// prepare builds the attestation payload of r and, from version 2 on,
// moves the appliance onto the attested block.
func (s *Service) prepare(ctx context.Context, version int, r *readyRelease) (*attestation.Payload, error) {
	payload, err := s.attestations.GetAttestationPayload(ctx, version, r.creationTxID, r.tx, r.confirmationTxID)
	if err != nil {
		s.alerter.SigningFailed(r.creationTxID, err)
		return nil, err
	}

	if version >= 2 {
		if err := s.ensureAncestor(ctx, version, payload); err != nil {
			s.alerter.PreSigningFailed(r.creationTxID, err)
			return nil, err
		}
	}
	return payload, nil
}

func (s *Service) signAndSubmit(ctx context.Context, r *readyRelease, payload *attestation.Payload, pubKey *btcec.PublicKey) error {
	sigs := make([][]byte, len(r.tx.TxIn))
	for idx := range r.tx.TxIn {
		sigHash, err := federation.SigHash(r.tx, idx)
		if err != nil {
			s.alerter.SigningFailed(r.creationTxID, err)
			return err
		}

		sig, err := s.appliance.Sign(ctx, s.cfg.KeyID, signers.NewMessage(payload, idx, sigHash))
		if err != nil {
			err = fmt.Errorf("input %d: %w", idx, err)
			s.alerter.SigningFailed(r.creationTxID, err)
			return err
		}
		sigs[idx] = sig
	}

	// the bridge knows the request under the id it reported
	if err := s.bridge.SubmitSignatures(ctx, pubKey.SerializeCompressed(), sigs, r.submitTxID); err != nil {
		s.alerter.SigningFailed(r.creationTxID, err)
		return err
	}

	s.signed.Put(r.creationTxID)
	s.metrics.ReleaseSigned()

	logger.WithFields(logger.Fields{
		"creationTxId": r.creationTxID.Hex(),
		"btcTxId":      r.btcTxID.String(),
		"federation":   r.federation.Name,
		"inputs":       len(sigs),
		"version":      payload.Version,
	}).Info("release request signed")
	return nil
}

func (s *Service) ensureAncestor(ctx context.Context, version int, payload *attestation.Payload) error {
	updater, ok := s.appliance.(signers.AncestorUpdater)
	if !ok {
		return nil
	}
	if payload.Proof == nil {
		return signers.ErrMissingAttestation
	}
	return updater.EnsureAncestor(ctx, version, payload.Proof.BlockHash)
}

func (s *Service) publicKey(ctx context.Context) (*btcec.PublicKey, error) {
	s.pubKeyMu.Lock()
	defer s.pubKeyMu.Unlock()

	if s.pubKey != nil {
		return s.pubKey, nil
	}
	pk, err := s.appliance.PublicKey(ctx, s.cfg.KeyID)
	if err != nil {
		return nil, err
	}
	s.pubKey = pk
	return pk, nil
}
