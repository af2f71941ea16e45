package queue

import (
	"errors"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

var (
	// ErrNotCancellable is returned when cancelling a job that already left pending.
	ErrNotCancellable = errors.New("job can no longer be cancelled")

	// ErrNotRetryable is returned when retrying a job that has not permanently failed.
	ErrNotRetryable = errors.New("job is not in a retryable state")

	// ErrNotClaimed is returned when completing or failing a job that is not processing.
	ErrNotClaimed = errors.New("job is not being processed")
)

// QueueFullError reports that an organization reached its active job ceiling.
type QueueFullError struct {
	OrgID string
	Limit int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue for organization %s is full (limit %d active jobs)", e.OrgID, e.Limit)
}

// Is lets errors.Is(err, persistence.ErrQueueFull) match.
func (e *QueueFullError) Is(target error) bool {
	return target == persistence.ErrQueueFull
}

// IsQueueFull reports whether err is a backpressure rejection.
func IsQueueFull(err error) bool {
	return errors.Is(err, persistence.ErrQueueFull)
}
