package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Unlimited marks a plan without an execution allowance.
const Unlimited int64 = -1

// Plan is one billing plan.
type Plan struct {
	// MonthlyExecutions is the execution allowance per calendar month;
	// Unlimited disables the check.
	MonthlyExecutions int64 `yaml:"monthly_executions" validate:"gte=-1"`
}

// Limits maps organizations to plans. It is loaded from a YAML file:
//
//	default_plan: free
//	plans:
//	  free: {monthly_executions: 100}
//	  team: {monthly_executions: 10000}
//	organizations:
//	  org-42: team
type Limits struct {
	DefaultPlan   string            `yaml:"default_plan"  validate:"required"`
	Plans         map[string]Plan   `yaml:"plans"         validate:"required,min=1,dive"`
	Organizations map[string]string `yaml:"organizations"`
}

// DefaultLimits is used when no limits file is configured: every
// organization is unlimited.
func DefaultLimits() Limits {
	return Limits{
		DefaultPlan: "unlimited",
		Plans:       map[string]Plan{"unlimited": {MonthlyExecutions: Unlimited}},
	}
}

// LoadLimits reads and validates a limits file.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read limits file %s: %w", path, err)
	}

	return ParseLimits(data)
}

// ParseLimits decodes and validates limits YAML.
func ParseLimits(data []byte) (Limits, error) {
	var limits Limits

	err := yaml.Unmarshal(data, &limits)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to parse limits YAML: %w", err)
	}

	err = validate.Struct(limits)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Limits{}, fmt.Errorf("invalid limits: %s failed %q", fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}

		return Limits{}, fmt.Errorf("invalid limits: %w", err)
	}

	if _, ok := limits.Plans[limits.DefaultPlan]; !ok {
		return Limits{}, fmt.Errorf("invalid limits: default plan %q is not defined", limits.DefaultPlan)
	}

	for org, plan := range limits.Organizations {
		if _, ok := limits.Plans[plan]; !ok {
			return Limits{}, fmt.Errorf("invalid limits: organization %s uses undefined plan %q", org, plan)
		}
	}

	return limits, nil
}

// ExecutionLimit returns the monthly allowance of orgID.
func (l Limits) ExecutionLimit(orgID string) int64 {
	name, ok := l.Organizations[orgID]
	if !ok {
		name = l.DefaultPlan
	}

	plan, ok := l.Plans[name]
	if !ok {
		return Unlimited
	}

	return plan.MonthlyExecutions
}
