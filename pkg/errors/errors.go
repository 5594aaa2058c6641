// Package errors provides a structured error system for RenderFlow with error
// codes, categories, and context.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for RenderFlow operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Scheduling errors
	ErrCodeDuplicateTask   ErrorCode = "DUPLICATE_TASK"
	ErrCodeTaskNotFound    ErrorCode = "TASK_NOT_FOUND"
	ErrCodeInvalidPriority ErrorCode = "INVALID_PRIORITY"
	ErrCodeWorkerBusy      ErrorCode = "WORKER_BUSY"

	// Cache errors
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"
	ErrCodeCacheFull       ErrorCode = "CACHE_FULL"
	ErrCodePartialWrite    ErrorCode = "PARTIAL_WRITE"
	ErrCodeTierUnavailable ErrorCode = "TIER_UNAVAILABLE"
	ErrCodeSerialization   ErrorCode = "SERIALIZATION"

	// Storage/network errors
	ErrCodeStorageRead      ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite     ErrorCode = "STORAGE_WRITE"
	ErrCodeObjectNotFound   ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeNetworkError     ErrorCode = "NETWORK_ERROR"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Resource errors
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeProbeFailed       ErrorCode = "PROBE_FAILED"

	// State errors
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryScheduling    ErrorCategory = "scheduling"
	CategoryCache         ErrorCategory = "cache"
	CategoryStorage       ErrorCategory = "storage"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// FlowError represents a structured error with context and metadata.
type FlowError struct {
	Code      ErrorCode              `json:"code"`
	Category  ErrorCategory          `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *FlowError) Is(target error) bool {
	if fe, ok := target.(*FlowError); ok {
		return e.Code == fe.Code
	}
	return false
}

// NewError creates a new RenderFlow error with default values.
func NewError(code ErrorCode, message string) *FlowError {
	return &FlowError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// WrapError wraps an existing error with RenderFlow error context.
func WrapError(cause error, code ErrorCode, message string) *FlowError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// WithComponent sets the originating component name.
func (e *FlowError) WithComponent(component string) *FlowError {
	e.Component = component
	return e
}

// WithOperation sets the failing operation name.
func (e *FlowError) WithOperation(operation string) *FlowError {
	e.Operation = operation
	return e
}

// WithDetail attaches a key/value pair of diagnostic detail.
func (e *FlowError) WithDetail(key string, value interface{}) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryable overrides the default retryability hint.
func (e *FlowError) WithRetryable(retryable bool) *FlowError {
	e.Retryable = retryable
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "DUPLICATE_TASK") || strings.HasPrefix(codeStr, "TASK_") ||
		strings.HasPrefix(codeStr, "INVALID_PRIORITY") || strings.HasPrefix(codeStr, "WORKER_"):
		return CategoryScheduling
	case strings.HasPrefix(codeStr, "CACHE_") || strings.HasPrefix(codeStr, "PARTIAL_") ||
		strings.HasPrefix(codeStr, "TIER_") || strings.HasPrefix(codeStr, "SERIALIZATION"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "OBJECT_") ||
		strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_") ||
		strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "RESOURCE_") || strings.HasPrefix(codeStr, "PROBE_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeNetworkError, ErrCodeOperationTimeout,
		ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeTierUnavailable,
		ErrCodeResourceExhausted, ErrCodeWorkerBusy:
		return true
	}
	return false
}

// IsCode reports whether err or any error in its chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeInternalError for plain errors.
func CodeOf(err error) ErrorCode {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternalError
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}
