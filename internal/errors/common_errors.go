package errors

import (
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Convolution error kinds
	ErrTypeInsufficientData   ErrorType = "INSUFFICIENT_DATA"
	ErrTypeNonPositiveValue   ErrorType = "NON_POSITIVE_VALUE"
	ErrTypeInconsistentLevels ErrorType = "INCONSISTENT_INTENSITY_LEVELS"
	ErrTypeMismatchedRecords  ErrorType = "MISMATCHED_RECORD_COUNT"
	ErrTypeDegenerateModel    ErrorType = "DEGENERATE_MODEL"

	ErrTypeParsing    ErrorType = "PARSING"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeConfig     ErrorType = "CONFIG"
)

// NoMeasure marks an error that is not tied to a single intensity measure.
const NoMeasure = -1

// Sentinels for errors.Is checks. Matching is by ErrorType only.
var (
	ErrInsufficientData   = &AppError{Type: ErrTypeInsufficientData, Measure: NoMeasure}
	ErrNonPositiveValue   = &AppError{Type: ErrTypeNonPositiveValue, Measure: NoMeasure}
	ErrInconsistentLevels = &AppError{Type: ErrTypeInconsistentLevels, Measure: NoMeasure}
	ErrMismatchedRecords  = &AppError{Type: ErrTypeMismatchedRecords, Measure: NoMeasure}
	ErrDegenerateModel    = &AppError{Type: ErrTypeDegenerateModel, Measure: NoMeasure}
	ErrNotFound           = &AppError{Type: ErrTypeNotFound, Measure: NoMeasure}
	ErrParsing            = &AppError{Type: ErrTypeParsing, Measure: NoMeasure}
	ErrStorage            = &AppError{Type: ErrTypeStorage, Measure: NoMeasure}
	ErrConfig             = &AppError{Type: ErrTypeConfig, Measure: NoMeasure}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	// Measure is the index of the offending intensity measure, or NoMeasure.
	Measure int
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Measure != NoMeasure {
		msg = fmt.Sprintf("[%s] measure %d: %s", e.Type, e.Measure, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithMeasure returns a copy of the error attributed to the given measure index.
func (e *AppError) WithMeasure(measure int) *AppError {
	cp := *e
	cp.Measure = measure
	if e.Context != nil {
		cp.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Measure: NoMeasure,
		Context: make(map[string]interface{}),
	}
}

// IsDomainError reports whether the error type belongs to the convolution core.
func IsDomainError(t ErrorType) bool {
	switch t {
	case ErrTypeInsufficientData, ErrTypeNonPositiveValue, ErrTypeInconsistentLevels,
		ErrTypeMismatchedRecords, ErrTypeDegenerateModel:
		return true
	}
	return false
}

// NewInsufficientDataError reports fewer data points than an algorithm needs.
func NewInsufficientDataError(what string, got, need int) *AppError {
	return NewAppError(ErrTypeInsufficientData,
		fmt.Sprintf("%s: got %d, need at least %d", what, got, need), nil).
		WithContext("got", got).
		WithContext("need", need)
}

// NewNonPositiveValueError reports a value <= 0 where a logarithm is required.
func NewNonPositiveValueError(what string, index int, value float64) *AppError {
	return NewAppError(ErrTypeNonPositiveValue,
		fmt.Sprintf("%s[%d] = %g must be > 0", what, index, value), nil).
		WithContext("index", index).
		WithContext("value", value)
}

// NewInconsistentLevelsError reports intensity levels that differ from the shared grid.
func NewInconsistentLevelsError(message string) *AppError {
	return NewAppError(ErrTypeInconsistentLevels, message, nil)
}

// NewMismatchedRecordsError reports collections that should have equal length.
func NewMismatchedRecordsError(what string, a, b int) *AppError {
	return NewAppError(ErrTypeMismatchedRecords,
		fmt.Sprintf("%s: %d vs %d", what, a, b), nil).
		WithContext("left", a).
		WithContext("right", b)
}

// NewDegenerateModelError reports a fitted slope indistinguishable from zero.
func NewDegenerateModelError(slope, dispersion float64) *AppError {
	return NewAppError(ErrTypeDegenerateModel,
		fmt.Sprintf("slope %g leaves dispersion undefined (%g)", slope, dispersion), nil).
		WithContext("slope", slope).
		WithContext("dispersion", dispersion)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}
