package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Orchestration-specific error codes.
const (
	ErrGraphInvalid       = "GRAPH_INVALID"
	ErrUnknownNodeType    = "UNKNOWN_NODE_TYPE"
	ErrStepFailed         = "STEP_FAILED"
	ErrExecutionTimeout   = "EXECUTION_TIMEOUT"
	ErrExecutionNotActive = "EXECUTION_NOT_ACTIVE"
	ErrJobFailed          = "JOB_FAILED"
	ErrJobNotActive       = "JOB_NOT_ACTIVE"
)

// ErrorEnvelope is the standard error type used across the orchestration
// core. It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR.
func NewValidationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInternalError, Message: msg}
}

// NewGraphInvalidError returns a GRAPH_INVALID error carrying the
// human-readable reason produced by graph validation.
func NewGraphInvalidError(reason string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrGraphInvalid, Message: reason}
}

// NewUnknownNodeTypeError returns an UNKNOWN_NODE_TYPE error.
func NewUnknownNodeTypeError(nodeID, nodeType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownNodeType,
		Message: fmt.Sprintf("node %q has unknown type %q", nodeID, nodeType),
	}
}

// NewStepFailedError returns a STEP_FAILED error.
func NewStepFailedError(nodeID string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStepFailed,
		Message: fmt.Sprintf("step %q failed: %v", nodeID, cause),
	}
}

// NewExecutionTimeoutError returns an EXECUTION_TIMEOUT error.
func NewExecutionTimeoutError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrExecutionTimeout, Message: msg}
}

// NewExecutionNotActiveError returns an EXECUTION_NOT_ACTIVE error.
func NewExecutionNotActiveError(executionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrExecutionNotActive,
		Message: fmt.Sprintf("execution %q is not active", executionID),
	}
}

// NewJobFailedError returns a JOB_FAILED error.
func NewJobFailedError(jobID, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrJobFailed,
		Message: fmt.Sprintf("job %q failed: %s", jobID, msg),
	}
}

// NewJobNotActiveError returns a JOB_NOT_ACTIVE error.
func NewJobNotActiveError(jobID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrJobNotActive,
		Message: fmt.Sprintf("job %q is not active", jobID),
	}
}
