package federation

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrNoInputs        = errors.New("tx has no inputs")
	ErrNoRedeemScript  = errors.New("input carries no redeem script")
	ErrInputOutOfRange = errors.New("input index out of range")
	ErrNoFreeSlot      = errors.New("no free signature slot in input")
)

const tweakLength = 32

// RedeemScriptOf returns the redeem script pushed last by the
// unlocking script of input idx, tweak included.
func RedeemScriptOf(tx *wire.MsgTx, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, ErrInputOutOfRange
	}

	pushes, err := txscript.PushedData(tx.TxIn[idx].SignatureScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRedeemScript, err)
	}
	if len(pushes) == 0 || len(pushes[len(pushes)-1]) == 0 {
		return nil, ErrNoRedeemScript
	}
	return pushes[len(pushes)-1], nil
}

// CanonicalRedeemScript strips a leading "<32 bytes> OP_DROP" tweak.
// Scripts without one are returned unchanged.
func CanonicalRedeemScript(script []byte) []byte {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || len(tokenizer.Data()) != tweakLength {
		return script
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_DROP {
		return script
	}
	return script[tokenizer.ByteIndex():]
}

// TemplateScript is the unsigned unlocking script for a federation input:
// the CHECKMULTISIG dummy, one empty slot per required signature, then
// the redeem script.
func TemplateScript(threshold int, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	for i := 0; i < threshold; i++ {
		builder.AddOp(txscript.OP_0)
	}
	builder.AddData(redeemScript)
	return builder.Script()
}

// StripSignatures returns a copy of tx whose inputs all carry the empty
// template for fed. Each input keeps its own redeem script bytes so a
// tweaked script stays tweaked. Applying it twice gives the same bytes.
func StripSignatures(tx *wire.MsgTx, fed *Federation) (*wire.MsgTx, error) {
	if len(tx.TxIn) == 0 {
		return nil, ErrNoInputs
	}

	out := tx.Copy()
	for idx := range out.TxIn {
		redeemScript, err := RedeemScriptOf(out, idx)
		if err != nil || !fed.Matches(redeemScript) {
			redeemScript = fed.RedeemScript
		}

		script, err := TemplateScript(fed.Threshold, redeemScript)
		if err != nil {
			return nil, err
		}
		out.TxIn[idx].SignatureScript = script
	}
	return out, nil
}

// SigHash computes the legacy SIGHASH_ALL digest of input idx, using the
// redeem script carried by that input.
func SigHash(tx *wire.MsgTx, idx int) ([]byte, error) {
	redeemScript, err := RedeemScriptOf(tx, idx)
	if err != nil {
		return nil, err
	}
	return txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
}

// HasSignatureFrom reports whether any input of tx already holds a valid
// signature by pubKey.
func HasSignatureFrom(tx *wire.MsgTx, pubKey *btcec.PublicKey) bool {
	for idx := range tx.TxIn {
		if inputSignedBy(tx, idx, pubKey) {
			return true
		}
	}
	return false
}

func inputSignedBy(tx *wire.MsgTx, idx int, pubKey *btcec.PublicKey) bool {
	pushes, err := txscript.PushedData(tx.TxIn[idx].SignatureScript)
	if err != nil || len(pushes) < 2 {
		return false
	}

	hash, err := SigHash(tx, idx)
	if err != nil {
		return false
	}

	// skip the dummy and the redeem script
	for _, push := range pushes[1 : len(pushes)-1] {
		if len(push) < 2 {
			continue
		}
		sig, err := ecdsa.ParseDERSignature(push[:len(push)-1])
		if err != nil {
			continue
		}
		if sig.Verify(hash, pubKey) {
			return true
		}
	}
	return false
}

// AddSignature places a DER signature (without sighash byte) into the
// first empty slot of input idx.
func AddSignature(tx *wire.MsgTx, idx int, derSig []byte) error {
	redeemScript, err := RedeemScriptOf(tx, idx)
	if err != nil {
		return err
	}
	pushes, _ := txscript.PushedData(tx.TxIn[idx].SignatureScript)
	if len(pushes) < 2 {
		return ErrNoFreeSlot
	}

	slots := pushes[1 : len(pushes)-1]
	placed := false
	for i, slot := range slots {
		if len(slot) == 0 {
			slots[i] = append(append([]byte{}, derSig...), byte(txscript.SigHashAll))
			placed = true
			break
		}
	}
	if !placed {
		return ErrNoFreeSlot
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	for _, slot := range slots {
		if len(slot) == 0 {
			builder.AddOp(txscript.OP_0)
		} else {
			builder.AddData(slot)
		}
	}
	builder.AddData(redeemScript)

	script, err := builder.Script()
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = script
	return nil
}
