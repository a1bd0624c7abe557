package common

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// BtcNetParams maps a network name as found in configuration files
// to its chain parameters. Unknown names fall back to regtest.
func BtcNetParams(name string) *chaincfg.Params {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
