package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Flow and persistence error codes.
const (
	ErrStaleStep            = "STALE_STEP"
	ErrTabNotNavigable      = "TAB_NOT_NAVIGABLE"
	ErrReferentialIntegrity = "REFERENTIAL_INTEGRITY"
	ErrPersistence          = "PERSISTENCE_ERROR"
	ErrDivergence           = "DIVERGENCE"
)

// Field-level validation codes.
const (
	FieldRequired      = "REQUIRED"
	FieldUnknown       = "UNKNOWN_FIELD"
	FieldInvalidType   = "INVALID_TYPE"
	FieldInvalidOption = "INVALID_OPTION"
	FieldRange         = "RANGE"
	FieldPattern       = "PATTERN"
)

// ErrorEnvelope is the structured error returned by every formflow operation.
// It implements the error interface and optionally wraps a cause.
type ErrorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details []FieldError   `json:"details,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// WithContext returns the envelope with the key/value added to its context.
func (e *ErrorEnvelope) WithContext(key string, value any) *ErrorEnvelope {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// FieldIDs returns the field ids listed in the envelope details, in order.
func (e *ErrorEnvelope) FieldIDs() []string {
	ids := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		ids = append(ids, d.Field)
	}
	return ids
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
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

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStaleStepError reports a submission against a step that is not active.
func NewStaleStepError(stepID, currentStepID string) *ErrorEnvelope {
	e := &ErrorEnvelope{
		Code:    ErrStaleStep,
		Message: fmt.Sprintf("step %q is not the active step, please refresh", stepID),
	}
	return e.WithContext("step_id", stepID).WithContext("current_step_id", currentStepID)
}

// NewTabNotNavigableError reports navigation to a tab that is not completed.
func NewTabNotNavigableError(formID, status string) *ErrorEnvelope {
	e := &ErrorEnvelope{
		Code:    ErrTabNotNavigable,
		Message: fmt.Sprintf("tab %q cannot be opened while %s", formID, status),
	}
	return e.WithContext("form_id", formID)
}

// NewReferentialIntegrityError reports unresolved definition references.
func NewReferentialIntegrityError(msg string, details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrReferentialIntegrity, Message: msg, Details: details}
}

// NewPersistenceError reports a failed durable write. The caller may retry.
func NewPersistenceError(msg string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPersistence, Message: msg, cause: cause}
}

// NewDivergenceError reports a failed compensating action that left the
// database and the mirror store out of sync.
func NewDivergenceError(submissionID string, cause error) *ErrorEnvelope {
	e := &ErrorEnvelope{
		Code:    ErrDivergence,
		Message: "rollback failed, database and mirror store diverged",
		cause:   cause,
	}
	return e.WithContext("submission_id", submissionID)
}

// HasCode reports whether err is, or wraps, an ErrorEnvelope with the code.
func HasCode(err error, code string) bool {
	return FindCode(err, code) != nil
}

// FindCode returns the outermost ErrorEnvelope with the code in err's chain,
// or nil.
func FindCode(err error, code string) *ErrorEnvelope {
	for err != nil {
		var env *ErrorEnvelope
		if !errors.As(err, &env) {
			return nil
		}
		if env.Code == code {
			return env
		}
		err = env.cause
	}
	return nil
}

// IsDivergence reports whether err carries a DIVERGENCE error anywhere in its
// chain.
func IsDivergence(err error) bool {
	return HasCode(err, ErrDivergence)
}
