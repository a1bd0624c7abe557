package federation

import (
	"github.com/TEENet-io/pegout-federator/common"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SimFederation is a federation whose private keys are known, for tests
// and local development.
type SimFederation struct {
	*Federation

	// same order as Federation.PubKeys
	PrivKeys []*btcec.PrivateKey
}

func NewSimFederation(name string, n, threshold int) (*SimFederation, error) {
	privs := make([]*btcec.PrivateKey, n)
	pubs := make([]*btcec.PublicKey, n)
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		privs[i] = priv
		pubs[i] = priv.PubKey()
	}

	fed, err := New(name, pubs, threshold, &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, err
	}

	sorted := make([]*btcec.PrivateKey, n)
	for i, pk := range fed.PubKeys {
		for _, priv := range privs {
			if priv.PubKey().IsEqual(pk) {
				sorted[i] = priv
				break
			}
		}
	}

	return &SimFederation{Federation: fed, PrivKeys: sorted}, nil
}

// TweakedRedeemScript prefixes the federation's redeem script with
// "<tweak> OP_DROP".
func (sf *SimFederation) TweakedRedeemScript(tweak [32]byte) ([]byte, error) {
	prefix, err := txscript.NewScriptBuilder().AddData(tweak[:]).AddOp(txscript.OP_DROP).Script()
	if err != nil {
		return nil, err
	}
	return append(prefix, sf.RedeemScript...), nil
}

// NewSpendTx builds an unsigned tx spending numInputs random outpoints held
// by the federation. A nil tweak uses the canonical redeem script.
func (sf *SimFederation) NewSpendTx(numInputs int, tweak *[32]byte) (*wire.MsgTx, error) {
	redeemScript := sf.RedeemScript
	if tweak != nil {
		var err error
		redeemScript, err = sf.TweakedRedeemScript(*tweak)
		if err != nil {
			return nil, err
		}
	}

	template, err := TemplateScript(sf.Threshold, redeemScript)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for i := 0; i < numInputs; i++ {
		prevHash := chainhash.Hash(common.RandBytes32())
		prev := wire.NewOutPoint(&prevHash, uint32(i))
		tx.AddTxIn(wire.NewTxIn(prev, template, nil))
	}

	receiver, err := btcutil.NewAddressPubKeyHash(common.RandBytes(20), &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(receiver)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(100000, pkScript))

	return tx, nil
}

// SignInput signs input idx with the i-th member key and stores the
// signature in the tx.
func (sf *SimFederation) SignInput(tx *wire.MsgTx, idx, member int) error {
	hash, err := SigHash(tx, idx)
	if err != nil {
		return err
	}
	sig := ecdsa.Sign(sf.PrivKeys[member], hash)
	return AddSignature(tx, idx, sig.Serialize())
}
