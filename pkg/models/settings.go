package models

import "time"

// ExecutionMode controls whether independent branches may run concurrently.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// ErrorHandling selects what the walker does after a node failure.
type ErrorHandling string

const (
	ErrorHandlingStop     ErrorHandling = "stop"     // Abort the remaining walk (default)
	ErrorHandlingContinue ErrorHandling = "continue" // Keep running independent branches
	ErrorHandlingRetry    ErrorHandling = "retry"    // Retryable failures re-enter the queue
)

// Default engine limits applied when a workflow leaves settings unset.
const (
	DefaultMaxAttempts         = 3
	DefaultInitialDelay        = 5 * time.Second
	DefaultBackoffMultiplier   = 2.0
	DefaultMaxDelay            = 15 * time.Minute
	DefaultMaxExecutionTime    = 5 * time.Minute
	DefaultMaxParallelBranches = 4
)

// Settings holds per-workflow execution policy.
type Settings struct {
	ExecutionMode       ExecutionMode `json:"execution_mode,omitempty"        validate:"omitempty,oneof=sequential parallel" bson:"execution_mode,omitempty"`
	ErrorHandling       ErrorHandling `json:"error_handling,omitempty"        validate:"omitempty,oneof=stop continue retry" bson:"error_handling,omitempty"`
	RetryPolicy         RetryPolicy   `json:"retry_policy" bson:"retry_policy"`
	MaxExecutionTime    Duration      `json:"max_execution_time,omitempty" bson:"max_execution_time,omitempty"`
	MaxParallelBranches int           `json:"max_parallel_branches,omitempty" validate:"omitempty,min=1,max=64" bson:"max_parallel_branches,omitempty"`
	Timezone            string        `json:"timezone,omitempty" bson:"timezone,omitempty"`
}

// RetryPolicy describes job-level retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts       int      `json:"max_attempts,omitempty"       validate:"omitempty,min=1,max=25" bson:"max_attempts,omitempty"`
	InitialDelay      Duration `json:"initial_delay,omitempty" bson:"initial_delay,omitempty"`
	BackoffMultiplier float64  `json:"backoff_multiplier,omitempty" validate:"omitempty,gte=1" bson:"backoff_multiplier,omitempty"`
	MaxDelay          Duration `json:"max_delay,omitempty" bson:"max_delay,omitempty"`
}

// EffectiveErrorHandling returns the configured policy or the default.
func (s Settings) EffectiveErrorHandling() ErrorHandling {
	if s.ErrorHandling == "" {
		return ErrorHandlingStop
	}

	return s.ErrorHandling
}

// EffectiveMaxExecutionTime returns the per-execution time budget.
func (s Settings) EffectiveMaxExecutionTime() time.Duration {
	if s.MaxExecutionTime <= 0 {
		return DefaultMaxExecutionTime
	}

	return s.MaxExecutionTime.Duration()
}

// Parallel reports whether independent branches may run concurrently.
func (s Settings) Parallel() bool {
	return s.ExecutionMode == ExecutionModeParallel
}

// Backoff converts the retry policy into queue backoff parameters,
// filling unset fields with engine defaults.
func (p RetryPolicy) Backoff() Backoff {
	b := Backoff{
		InitialDelay: p.InitialDelay,
		Multiplier:   p.BackoffMultiplier,
		MaxDelay:     p.MaxDelay,
	}

	if b.InitialDelay <= 0 {
		b.InitialDelay = Duration(DefaultInitialDelay)
	}

	if b.Multiplier < 1 {
		b.Multiplier = DefaultBackoffMultiplier
	}

	if b.MaxDelay <= 0 {
		b.MaxDelay = Duration(DefaultMaxDelay)
	}

	return b
}

// EffectiveMaxAttempts returns the configured attempts or the default.
func (p RetryPolicy) EffectiveMaxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}

	return p.MaxAttempts
}
