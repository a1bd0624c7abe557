package releaser

import "time"

const (
	DefaultKeyID                      = "BTC"
	DefaultMinValidationConfirmations = 10
	DefaultTickTimeout                = 2 * time.Minute
)

type Config struct {
	// federators that are not in the federation keep the service off
	Enabled bool

	// key the appliance signs with
	KeyID string

	// confirmations the validation spend waits for before outranking
	// regular requests
	MinValidationConfirmations uint64

	// pick the most recent ready request instead of the oldest
	NewestFirst bool

	// upper bound for one signing tick
	TickTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:                    true,
		KeyID:                      DefaultKeyID,
		MinValidationConfirmations: DefaultMinValidationConfirmations,
		TickTimeout:                DefaultTickTimeout,
	}
}
