package dispatcher

import (
	"errors"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/usage"
)

// Public admission error codes.
const (
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeWorkflowNotActive = "WORKFLOW_NOT_ACTIVE"
	CodeQueueFull         = "QUEUE_FULL"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrInvalidToken      = errors.New("invalid execution token")
	ErrWorkflowNotActive = errors.New("workflow is not active")
	ErrQueueFull         = errors.New("execution queue is full")
	ErrLimitExceeded     = errors.New("execution limit exceeded")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRequest    = errors.New("invalid trigger request")
)

// AdmissionError rejects a trigger before any job is created. Code is the
// stable public code; Message is safe to show to the caller.
type AdmissionError struct {
	Code    string
	Message string
	// Forbidden marks a WORKFLOW_NOT_FOUND that stands for a workflow the
	// caller may not execute.
	Forbidden bool
	// Usage is set for LIMIT_EXCEEDED.
	Usage *usage.Usage
	Err   error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AdmissionError) ErrorCode() string {
	return e.Code
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

func reject(code, message string, err error) *AdmissionError {
	return &AdmissionError{Code: code, Message: message, Err: err}
}

// AsAdmissionError extracts the admission error from err.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var admission *AdmissionError
	if errors.As(err, &admission) {
		return admission, true
	}

	return nil, false
}
