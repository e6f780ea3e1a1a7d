package workspace

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillet/pkg/logger"
)

// RetryConfig controls how RetryExecutor retries transport failures
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryConfig is used when no retry settings are configured
var DefaultRetryConfig = RetryConfig{
	Attempts: 3,
	Delay:    200 * time.Millisecond,
	MaxDelay: 2 * time.Second,
}

// RetryExecutor retries commands whose failure came from the transport
// rather than the command. Non-zero exits, timeouts and cancellation are
// returned as-is.
type RetryExecutor struct {
	next   Executor
	config RetryConfig
}

// NewRetryExecutor wraps next with retries
func NewRetryExecutor(next Executor, config RetryConfig) *RetryExecutor {
	if config.Attempts <= 0 {
		config.Attempts = DefaultRetryConfig.Attempts
	}
	if config.Delay <= 0 {
		config.Delay = DefaultRetryConfig.Delay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	return &RetryExecutor{next: next, config: config}
}

// Execute runs the command, retrying transient failures
func (e *RetryExecutor) Execute(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error) {
	var result *CommandResult

	err := retry.Do(
		func() error {
			var execErr error
			result, execErr = e.next.Execute(ctx, command, cwd, timeout)
			return execErr
		},
		retry.RetryIf(func(err error) bool {
			return isRetryable(ctx, err)
		}),
		retry.Attempts(uint(e.config.Attempts)),
		retry.Delay(e.config.Delay),
		retry.MaxDelay(e.config.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("attempt", n+1).
				WithField("max_attempts", e.config.Attempts).
				Warn("retrying workspace command")
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	return result, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if IsTimeout(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
