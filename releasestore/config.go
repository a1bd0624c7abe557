package releasestore

import (
	"errors"
	"time"
)

const (
	DefaultFlushDelay = 5 * time.Millisecond
	DefaultMaxDelays  = 5
)

var (
	ErrInvalidInterval  = errors.New("flush delay must be positive")
	ErrInvalidMaxDelays = errors.New("max delays must not be negative")
)

type Config struct {
	// how long a write waits for more writes before being flushed
	FlushDelay time.Duration

	// how many times a pending flush may be pushed back by new writes
	MaxDelays int
}

func DefaultConfig() *Config {
	return &Config{
		FlushDelay: DefaultFlushDelay,
		MaxDelays:  DefaultMaxDelays,
	}
}

func (cfg *Config) Validate() error {
	if cfg.FlushDelay <= 0 {
		return ErrInvalidInterval
	}
	if cfg.MaxDelays < 0 {
		return ErrInvalidMaxDelays
	}
	return nil
}
