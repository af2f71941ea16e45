// Package config holds the typed engine configuration and the plan limits
// file.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Engine is the runtime configuration shared by the API and the workers.
type Engine struct {
	// MaxQueueDepth is the per-organization ceiling of pending plus
	// processing jobs.
	MaxQueueDepth       int           `validate:"min=1"`
	DefaultMaxAttempts  int           `validate:"min=1,max=25"`
	PollInterval        time.Duration `validate:"min=10ms"`
	Concurrency         int           `validate:"min=1,max=64"`
	BatchSize           int           `validate:"min=1,max=10"`
	VisibilityTimeout   time.Duration `validate:"min=1s"`
	SweepInterval       time.Duration `validate:"min=1s"`
	Retention           time.Duration `validate:"min=0"`
	MaxParallelBranches int           `validate:"min=1,max=64"`
}

// DefaultEngine returns the configuration used when no flag overrides it.
func DefaultEngine() Engine {
	return Engine{
		MaxQueueDepth:       1000,
		DefaultMaxAttempts:  3,
		PollInterval:        time.Second,
		Concurrency:         4,
		BatchSize:           5,
		VisibilityTimeout:   10 * time.Minute,
		SweepInterval:       time.Minute,
		Retention:           7 * 24 * time.Hour,
		MaxParallelBranches: 4,
	}
}

var validate = validator.New()

// Validate checks every field against its bounds.
func (e Engine) Validate() error {
	err := validate.Struct(e)
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	return nil
}
