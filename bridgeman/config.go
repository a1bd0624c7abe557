package bridgeman

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	// URL is the URL of the ledger node
	URL string

	// BridgeContractAddress is the deployed bridge contract address
	BridgeContractAddress common.Address

	// hex private key of the ledger account that submits signatures
	SubmitterPrivateKey string

	// chain id used to sign submit transactions, nil to ask the node
	ChainID *big.Int
}
