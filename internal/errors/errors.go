// LOCATION: internal/errors/errors.go
// VERSION: 2.0 - Consolidated error definitions for the entire project
//
// This file provides:
// - Legacy status codes for the compatibility shim
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeToError mapping
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Legacy status codes - returned across the compatibility shim boundary
// ============================================================================

const (
	CodeSuccess           int32 = 0
	CodeUnknown           int32 = 1
	CodeInvalidParameter  int32 = 2
	CodeInsufficientSpace int32 = 3
	CodeBoundsViolation   int32 = 4
	CodeDiskIOFailed      int32 = 5
	CodeCorruption        int32 = 6
	CodeNotEmpty          int32 = 7
	CodeNotRunning        int32 = 8
	CodeInternal          int32 = 9
)

// CodeName returns a human-readable name for a status code.
func CodeName(code int32) string {
	switch code {
	case CodeSuccess:
		return "Success"
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidParameter:
		return "InvalidParameter"
	case CodeInsufficientSpace:
		return "InsufficientSpace"
	case CodeBoundsViolation:
		return "BoundsViolation"
	case CodeDiskIOFailed:
		return "DiskIOFailed"
	case CodeCorruption:
		return "CorruptionDetected"
	case CodeNotEmpty:
		return "NotEmpty"
	case CodeNotRunning:
		return "NotRunning"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Parameter errors
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilState         = errors.New("nil sensor state")
	ErrUninitialized    = errors.New("sensor state not initialized")
	ErrInvalidHandle    = errors.New("invalid sector handle")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingField     = errors.New("missing required field")

	// Space errors
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrPoolExhausted     = errors.New("sector pool exhausted")
	ErrCounterSaturated  = errors.New("record counter saturated")
	ErrSectorFull        = errors.New("sector full")

	// Bounds errors - invariant-protecting rejections, never clamps
	ErrBoundsViolation = errors.New("bounds violation")
	ErrNoRecords       = errors.New("no records available")

	// Disk errors
	ErrDiskIOFailed      = errors.New("disk I/O failed")
	ErrSectorNotFound    = errors.New("sector file not found")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrCursorNotFound    = errors.New("cursor file not found")
	ErrDirectoryNotFound = errors.New("directory not found")

	// Corruption errors
	ErrCorruptionDetected = errors.New("corruption detected")
	ErrInvalidStateSum    = errors.New("state checksum mismatch")

	// State/mode errors
	ErrNotEmpty          = errors.New("not empty")
	ErrInvalidTransition = errors.New("invalid mode transition")
	ErrNotRunning        = errors.New("engine not running")
	ErrAlreadyRunning    = errors.New("engine already running")
	ErrSensorNotFound    = errors.New("sensor not found")
	ErrAlreadyRegistered = errors.New("sensor already registered")
	ErrRecovering        = errors.New("recovery in progress")

	// Shim errors
	ErrEntryNotFound = errors.New("entry not found")

	// Writer errors
	ErrWriterClosed = errors.New("writer closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsInvalidParameter returns true if err is a parameter error.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrNilState) ||
		errors.Is(err, ErrUninitialized) ||
		errors.Is(err, ErrInvalidHandle) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsInsufficientSpace returns true if err is a space exhaustion error.
func IsInsufficientSpace(err error) bool {
	return errors.Is(err, ErrInsufficientSpace) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrCounterSaturated) ||
		errors.Is(err, ErrSectorFull)
}

// IsBoundsViolation returns true if err is a bounds rejection.
func IsBoundsViolation(err error) bool {
	return errors.Is(err, ErrBoundsViolation) ||
		errors.Is(err, ErrNoRecords)
}

// IsDiskIO returns true if err is a disk I/O error.
// A checksum mismatch on read is a disk error: a torn or corrupted
// sector file is treated as absent, never as recoverable data.
func IsDiskIO(err error) bool {
	return errors.Is(err, ErrDiskIOFailed) ||
		errors.Is(err, ErrSectorNotFound) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrCursorNotFound) ||
		errors.Is(err, ErrDirectoryNotFound)
}

// IsCorruption returns true if err indicates state corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruptionDetected) ||
		errors.Is(err, ErrInvalidStateSum)
}

// IsRetriable returns true if the error is potentially retriable.
// Disk failures are "try later", not fatal: the sensor stays in its
// current mode and the flush is retried on the next manager tick.
func IsRetriable(err error) bool {
	return IsDiskIO(err) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrRecovering)
}

// ============================================================================
// Error to legacy code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its legacy status code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeSuccess
	}

	switch {
	case IsInvalidParameter(err):
		return CodeInvalidParameter
	case IsInsufficientSpace(err):
		return CodeInsufficientSpace
	case IsBoundsViolation(err):
		return CodeBoundsViolation
	case IsDiskIO(err):
		return CodeDiskIOFailed
	case IsCorruption(err):
		return CodeCorruption
	case Is(err, ErrNotEmpty):
		return CodeNotEmpty
	case Is(err, ErrNotRunning):
		return CodeNotRunning
	default:
		return CodeInternal
	}
}

// CodeToError maps a legacy status code to a sentinel error.
func CodeToError(code int32) error {
	switch code {
	case CodeSuccess:
		return nil
	case CodeInvalidParameter:
		return ErrInvalidParameter
	case CodeInsufficientSpace:
		return ErrInsufficientSpace
	case CodeBoundsViolation:
		return ErrBoundsViolation
	case CodeDiskIOFailed:
		return ErrDiskIOFailed
	case CodeCorruption:
		return ErrCorruptionDetected
	case CodeNotEmpty:
		return ErrNotEmpty
	case CodeNotRunning:
		return ErrNotRunning
	default:
		return fmt.Errorf("status code %d", code)
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
