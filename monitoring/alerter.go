package monitoring

import (
	"github.com/TEENet-io/pegout-federator/agreement"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// LogAlerter logs alerts at error level and counts them.
type LogAlerter struct {
	metrics *Metrics
}

func NewLogAlerter(metrics *Metrics) *LogAlerter {
	return &LogAlerter{metrics: metrics}
}

func (la *LogAlerter) SigningFailed(creationTxID ethcommon.Hash, err error) {
	la.raise(AlertSigning, "creationTxId", creationTxID, err)
}

func (la *LogAlerter) PreSigningFailed(creationTxID ethcommon.Hash, err error) {
	la.raise(AlertPreSigning, "creationTxId", creationTxID, err)
}

func (la *LogAlerter) BroadcastFailed(releaseTxID ethcommon.Hash, err error) {
	la.raise(AlertBroadcast, "releaseTxId", releaseTxID, err)
}

func (la *LogAlerter) raise(kind, field string, id ethcommon.Hash, err error) {
	la.metrics.Alert(kind)
	logger.WithFields(logger.Fields{
		"alert": kind,
		field:   id.Hex(),
		"err":   err,
	}).Error("federator alert")
}

var _ agreement.Alerter = (*LogAlerter)(nil)
