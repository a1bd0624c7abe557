package federation

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"
)

var ErrCannotSign = errors.New("federation cannot sign this tx")

// Resolver matches btc transactions against the federations this node
// currently observes: the active one and, during a handover, the retiring one.
type Resolver struct {
	mu       sync.RWMutex
	active   *Federation
	retiring *Federation
}

func NewResolver(active, retiring *Federation) *Resolver {
	return &Resolver{active: active, retiring: retiring}
}

// SetFederations replaces the observed federations, e.g. after a handover.
func (r *Resolver) SetFederations(active, retiring *Federation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = active
	r.retiring = retiring
}

// Federations returns the observed federations, active first.
func (r *Resolver) Federations() []*Federation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feds := make([]*Federation, 0, 2)
	if r.active != nil {
		feds = append(feds, r.active)
	}
	if r.retiring != nil {
		feds = append(feds, r.retiring)
	}
	return feds
}

// Resolve finds the federation whose redeem script input 0 spends from and
// returns it with a signature-free copy of tx. All inputs of a tx are assumed
// to belong to the same federation.
func (r *Resolver) Resolve(tx *wire.MsgTx) (*Federation, *wire.MsgTx, error) {
	if len(tx.TxIn) == 0 {
		return nil, nil, ErrNoInputs
	}

	redeemScript, err := RedeemScriptOf(tx, 0)
	if err != nil {
		logger.WithFields(logger.Fields{
			"btcTxId": tx.TxHash().String(),
			"err":     err,
		}).Debug("no redeem script in first input")
		return nil, nil, ErrCannotSign
	}

	for _, fed := range r.Federations() {
		if !fed.Matches(redeemScript) {
			continue
		}

		normalized, err := StripSignatures(tx, fed)
		if err != nil {
			return nil, nil, err
		}
		return fed, normalized, nil
	}

	return nil, nil, ErrCannotSign
}
