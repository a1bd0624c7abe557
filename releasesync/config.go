package releasesync

import (
	"errors"
	"time"
)

const (
	MinTickerInterval   = 100 * time.Millisecond
	DefaultPollInterval = 10 * time.Second

	// Deepest rescan when the checkpoint is missing or orphaned. A multiple
	// of the confirmations the bridge waits for before a request becomes
	// signable, so no signable request predates the rescan window.
	DefaultMaxBacklogDepth = 4000
)

var ErrInvalidInterval = errors.New("poll interval too small")

type Config struct {
	PollInterval    time.Duration
	MaxBacklogDepth uint64
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval:    DefaultPollInterval,
		MaxBacklogDepth: DefaultMaxBacklogDepth,
	}
}
