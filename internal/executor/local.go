package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Local executes commands through a shell on this host.
type Local struct {
	// Shell is the interpreter binary; defaults to /bin/sh.
	Shell string
	// Timeout caps a single attempt. Zero means no per-attempt limit
	// beyond the caller's context.
	Timeout time.Duration
	// MaxRetries enables a bounded exponential backoff on failure.
	// Zero keeps the default policy: fatal on first failure.
	MaxRetries uint64
	// RetryInterval is the initial backoff delay when retries are enabled.
	RetryInterval time.Duration
}

// NewLocal returns a Local executor with defaults filled in.
func NewLocal(shell string, timeout time.Duration) *Local {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Local{Shell: shell, Timeout: timeout}
}

// Execute runs the command, retrying per the configured policy. The last
// attempt's outcome is returned alongside any final error so the failed
// output still lands in the transcript.
func (l *Local) Execute(ctx context.Context, command, target string) (*Outcome, error) {
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var outcome *Outcome
	attempt := func() error {
		var err error
		outcome, err = run(ctx, shell, command, target, l.Timeout)
		return err
	}

	if l.MaxRetries == 0 {
		err := attempt()
		return outcome, err
	}

	policy := backoff.NewExponentialBackOff()
	if l.RetryInterval > 0 {
		policy.InitialInterval = l.RetryInterval
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := attempt()
		if err != nil && ctx.Err() != nil {
			// Cancellation is not retryable.
			return backoff.Permanent(err)
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"command": command,
				"attempt": attempts,
			}).Warn("command attempt failed, retrying")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, l.MaxRetries), ctx))

	return outcome, err
}

// IsExecutionError reports whether err is (or wraps) an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
