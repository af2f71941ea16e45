package nodes

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidConfig is wrapped by configuration validation failures.
var ErrInvalidConfig = errors.New("invalid node configuration")

// ExecutionError classifies a node failure as retryable or terminal.
type ExecutionError struct {
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Retryable marks err as transient: the job may be re-run later.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &ExecutionError{Retryable: true, Err: err}
}

// Terminal marks err as deterministic: re-running will not help.
func Terminal(err error) error {
	if err == nil {
		return nil
	}

	return &ExecutionError{Retryable: false, Err: err}
}

// IsRetryable reports whether err is worth retrying. Explicit
// classification wins; otherwise timeouts and network errors are retryable
// and everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}

// InvalidConfig builds a terminal configuration error.
func InvalidConfig(format string, args ...any) error {
	return Terminal(fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}
