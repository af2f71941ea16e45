// Package usage meters executions against each organization's monthly
// allowance.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
)

// Usage is the result of one metering check. Limit and Remaining are
// config.Unlimited when no allowance applies.
type Usage struct {
	Allowed   bool  `json:"allowed"`
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Meter is the usage-metering capability consulted before admitting a
// public execution.
type Meter interface {
	// CheckAndIncrementExecutionUsage atomically counts one execution if
	// the allowance permits it.
	CheckAndIncrementExecutionUsage(ctx context.Context, orgID, workflowID string) (Usage, error)
	// ReleaseExecutionUsage returns a unit counted for an execution that
	// was never enqueued.
	ReleaseExecutionUsage(ctx context.Context, orgID string) error
}

// LimitSource returns the allowance of an organization.
type LimitSource interface {
	ExecutionLimit(orgID string) int64
}

// PeriodKey names the counter of orgID for the billing period holding at.
func PeriodKey(orgID string, at time.Time) string {
	return fmt.Sprintf("usage:%s:%s", orgID, at.UTC().Format("2006-01"))
}

// periodEnd is the first instant of the month after at.
func periodEnd(at time.Time) time.Time {
	at = at.UTC()

	return time.Date(at.Year(), at.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func newUsage(allowed bool, current, limit int64) Usage {
	u := Usage{Allowed: allowed, Current: current, Limit: limit, Remaining: config.Unlimited}
	if limit != config.Unlimited {
		u.Remaining = max(limit-current, 0)
	}

	return u
}
