package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a studycal failure.
type ErrorCode string

const (
	ErrFeedUnavailable    ErrorCode = "FEED_UNAVAILABLE"
	ErrFieldParseFailure  ErrorCode = "FIELD_PARSE_FAILURE"
	ErrGenerationFailure  ErrorCode = "GENERATION_FAILURE"
	ErrDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	ErrPersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrInvalidConfig      ErrorCode = "INVALID_CONFIG"
)

// StudyError is a coded error. Err, when set, is the underlying cause.
type StudyError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StudyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StudyError) Unwrap() error {
	return e.Err
}

// NewFeedUnavailable reports a missing or unreadable feed. Callers continue
// with zero events.
func NewFeedUnavailable(source string, err error) *StudyError {
	return &StudyError{
		Code:    ErrFeedUnavailable,
		Message: fmt.Sprintf("feed unavailable: %s", source),
		Err:     err,
	}
}

// NewFieldParseFailure reports a single event field that did not match the
// expected form.
func NewFieldParseFailure(field, value string) *StudyError {
	return &StudyError{
		Code:    ErrFieldParseFailure,
		Message: fmt.Sprintf("cannot parse %s value %q", field, value),
	}
}

// NewGenerationFailure reports a plan or coverage boundary failure.
func NewGenerationFailure(msg string, err error) *StudyError {
	return &StudyError{
		Code:    ErrGenerationFailure,
		Message: msg,
		Err:     err,
	}
}

// NewDeliveryFailure reports a notification that could not be delivered.
func NewDeliveryFailure(title string, err error) *StudyError {
	return &StudyError{
		Code:    ErrDeliveryFailure,
		Message: fmt.Sprintf("deliver %q", title),
		Err:     err,
	}
}

// NewPersistenceFailure reports a snapshot that could not be written or read.
func NewPersistenceFailure(what string, err error) *StudyError {
	return &StudyError{
		Code:    ErrPersistenceFailure,
		Message: what,
		Err:     err,
	}
}

// NewInvalidConfig reports an unusable configuration value.
func NewInvalidConfig(msg string) *StudyError {
	return &StudyError{
		Code:    ErrInvalidConfig,
		Message: msg,
	}
}

// Is reports whether err, or any error it wraps, is a StudyError with code.
func Is(err error, code ErrorCode) bool {
	var sErr *StudyError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
