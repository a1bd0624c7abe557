package bridgeman

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// BridgeABI is the part of the bridge contract the federator talks to.
const BridgeABI = `[
	{"type":"function","name":"getAwaitingSignatures","stateMutability":"view","inputs":[],
	 "outputs":[
		{"name":"creationTxHashes","type":"bytes32[]"},
		{"name":"confirmationTxHashes","type":"bytes32[]"},
		{"name":"btcTxs","type":"bytes[]"}]},
	{"type":"function","name":"getValidationSpendWaitingForSignatures","stateMutability":"view","inputs":[],
	 "outputs":[
		{"name":"creationTxHash","type":"bytes32"},
		{"name":"originBlock","type":"uint256"},
		{"name":"btcTx","type":"bytes"}]},
	{"type":"function","name":"addSignature","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"federatorPublicKey","type":"bytes"},
		{"name":"signatures","type":"bytes[]"},
		{"name":"txHash","type":"bytes32"}],
	 "outputs":[]},
	{"type":"event","name":"release_requested","anonymous":false,
	 "inputs":[
		{"name":"creationTxHash","type":"bytes32","indexed":true},
		{"name":"btcTxHash","type":"bytes32","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"release_btc","anonymous":false,
	 "inputs":[
		{"name":"releaseTxHash","type":"bytes32","indexed":true},
		{"name":"btcRawTransaction","type":"bytes","indexed":false}]}
]`

var (
	// Events
	ReleaseRequestedSignatureHash = crypto.Keccak256Hash([]byte("release_requested(bytes32,bytes32,uint256)"))
	ReleaseBtcSignatureHash       = crypto.Keccak256Hash([]byte("release_btc(bytes32,bytes)"))

	bridgeABI = mustParseABI(BridgeABI)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
