// Package federation describes the multisig custodians of the btc funds and
// decides whether this node can sign a given btc transaction.
package federation

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	ErrInvalidThreshold = errors.New("threshold must be between 1 and the number of members")
	ErrDuplicateMember  = errors.New("duplicate federation member")
)

// Federation is an m-of-n P2SH multisig custodian.
type Federation struct {
	Name string

	// sorted by compressed serialization
	PubKeys   []*btcec.PublicKey
	Threshold int

	// canonical redeem script, never tweaked
	RedeemScript []byte
	Address      *btcutil.AddressScriptHash
}

func New(name string, pubKeys []*btcec.PublicKey, threshold int, params *chaincfg.Params) (*Federation, error) {
	if threshold < 1 || threshold > len(pubKeys) {
		return nil, ErrInvalidThreshold
	}

	sorted := make([]*btcec.PublicKey, len(pubKeys))
	copy(sorted, pubKeys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SerializeCompressed(), sorted[j].SerializeCompressed()) < 0
	})

	addrs := make([]*btcutil.AddressPubKey, 0, len(sorted))
	for i, pk := range sorted {
		if i > 0 && sorted[i-1].IsEqual(pk) {
			return nil, ErrDuplicateMember
		}
		addr, err := btcutil.NewAddressPubKey(pk.SerializeCompressed(), params)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	script, err := txscript.MultiSigScript(addrs, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to build redeem script: %w", err)
	}

	address, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return nil, err
	}

	return &Federation{
		Name:         name,
		PubKeys:      sorted,
		Threshold:    threshold,
		RedeemScript: script,
		Address:      address,
	}, nil
}

// NewFromHex parses compressed public keys given as hex strings.
func NewFromHex(name string, pubKeysHex []string, threshold int, params *chaincfg.Params) (*Federation, error) {
	pubKeys := make([]*btcec.PublicKey, 0, len(pubKeysHex))
	for _, s := range pubKeysHex {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid public key hex %q: %w", s, err)
		}
		pk, err := btcec.ParsePubKey(b)
		if err != nil {
			return nil, fmt.Errorf("invalid public key %q: %w", s, err)
		}
		pubKeys = append(pubKeys, pk)
	}
	return New(name, pubKeys, threshold, params)
}

func (f *Federation) IsMember(pubKey *btcec.PublicKey) bool {
	for _, pk := range f.PubKeys {
		if pk.IsEqual(pubKey) {
			return true
		}
	}
	return false
}

// Matches reports whether redeemScript, with any tweak removed,
// is this federation's redeem script.
func (f *Federation) Matches(redeemScript []byte) bool {
	return bytes.Equal(CanonicalRedeemScript(redeemScript), f.RedeemScript)
}

func (f *Federation) String() string {
	return fmt.Sprintf("%s(%d-of-%d %s)", f.Name, f.Threshold, len(f.PubKeys), f.Address.EncodeAddress())
}
