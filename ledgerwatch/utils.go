package ledgerwatch

import (
	"errors"

	"github.com/ethereum/go-ethereum"
)

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
