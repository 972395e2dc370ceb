package retry

import (
	"context"
	"log/slog"
)

// Strategy wraps chain queries with a retry policy. Submission paths must
// not use it: a failed submission is reported to the caller unchanged.
type Strategy interface {
	// Execute runs the query with the configured retry logic.
	Execute(ctx context.Context, query Query) error

	// Name returns the strategy name for logging.
	Name() string
}

// Query is a chain read that can be safely re-run.
type Query func() error

// NewStrategy creates a retry strategy from configuration.
func NewStrategy(config Config) Strategy {
	if !config.Enabled {
		return NewNoRetryStrategy()
	}

	slog.Info("Chain query retry enabled",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)

	return NewExponentialBackoffStrategy(
		config.MaxRetries,
		config.InitialDelay,
		config.MaxDelay,
	)
}
