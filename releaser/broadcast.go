package releaser

import (
	"context"

	"github.com/TEENet-io/pegout-federator/agreement"
	logger "github.com/sirupsen/logrus"
)

// OnBlock broadcasts every btc tx the bridge released in the block.
func (s *Service) OnBlock(ctx context.Context, ev *agreement.BlockEvent) {
	evs, err := s.parser.ReleaseBroadcastableInReceipts(ev.Receipts)
	if err != nil {
		logger.WithFields(logger.Fields{
			"block": ev.Number(),
			"err":   err,
		}).Warn("malformed release_btc events")
	}

	for _, rel := range evs {
		if err := s.broadcaster.Broadcast(ctx, rel.Tx); err != nil {
			s.metrics.Broadcast(false)
			s.alerter.BroadcastFailed(rel.ReleaseTxID, err)
			continue
		}
		s.metrics.Broadcast(true)

		logger.WithFields(logger.Fields{
			"releaseTxId": rel.ReleaseTxID.Hex(),
			"btcTxId":     rel.Tx.TxHash().String(),
			"block":       rel.BlockNumber,
		}).Info("released btc tx broadcast")
	}
}
