package ledgerwatch

import (
	"errors"
	"time"
)

const (
	MinPollInterval      = 100 * time.Millisecond
	DefaultPollInterval  = 5 * time.Second
	DefaultMaxReorgDepth = 64
	DefaultChannelSize   = 16
)

var ErrInvalidInterval = errors.New("poll interval too small")

type Config struct {
	// interval to check the ledger head
	PollInterval time.Duration

	// how many emitted blocks are remembered to detect reorgs
	MaxReorgDepth uint64

	ChannelSize int

	// first height to emit, -1 starts at the current head
	StartHeight int64
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval:  DefaultPollInterval,
		MaxReorgDepth: DefaultMaxReorgDepth,
		ChannelSize:   DefaultChannelSize,
		StartHeight:   -1,
	}
}
