package retry

import (
	"context"
)

// NoRetryStrategy runs the query exactly once. Used when retry is disabled.
type NoRetryStrategy struct{}

// NewNoRetryStrategy creates a new NoRetryStrategy.
func NewNoRetryStrategy() *NoRetryStrategy {
	return &NoRetryStrategy{}
}

// Execute runs the query once without retrying.
func (s *NoRetryStrategy) Execute(ctx context.Context, query Query) error {
	return query()
}

// Name returns the strategy name.
func (s *NoRetryStrategy) Name() string {
	return "NoRetry"
}
