// Package exception provides the error types used by promptbatch.
// A BatchError records the module it came from and whether the failure may be
// retried or skipped, which drives the provider retry loop and the
// orchestrator's row/batch/task error routing.
package exception

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps configured error names to sentinel instances compared with errors.Is.
var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a sentinel error under name.
// It panics on an empty name or a nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// ErrValidation marks input validation failures: missing file, incomplete
// configuration, out of range field index. Wrapped by NewValidationError.
var ErrValidation = errors.New("validation failed")

// BatchError is the error type produced throughout batch processing.
type BatchError struct {
	// Module is where the error occurred (e.g. "reader", "provider", "tracker").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewBatchError creates a BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a BatchError from a format string.
// Trailing optional arguments are consumed from the end in the order
// [originalErr error], [isRetryable bool], [isSkippable bool]; the rest feed fmt.Sprintf.
//
//	NewBatchErrorf("provider", "status %d", 503, true, err) // retryable, wraps err
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if n := len(args); n > 0 {
		if err, ok := args[n-1].(error); ok {
			originalErr = err
			args = args[:n-1]
		}
	}
	if n := len(args); n > 0 {
		if b, ok := args[n-1].(bool); ok {
			isRetryable = b
			args = args[:n-1]
		}
	}
	if n := len(args); n > 0 {
		if b, ok := args[n-1].(bool); ok {
			isSkippable = b
			args = args[:n-1]
		}
	}

	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewValidationError creates a non-retryable BatchError that matches ErrValidation.
func NewValidationError(module, message string) *BatchError {
	return NewBatchError(module, message, ErrValidation, false, false)
}

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil && !errors.Is(e.OriginalErr, ErrValidation) {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary reports whether err looks transient. A BatchError's retryable flag wins;
// otherwise context deadline and common network failure messages count.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection refused", "connection reset", "eof", "no such host"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err can be neither retried nor skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied")
}

// IsErrorOfType matches err against a registered sentinel name, a message substring,
// or a Go type name anywhere in its chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
		if t := reflect.TypeOf(cur); t != nil {
			if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// ExtractErrorMessage returns the BatchError message, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("ErrValidation", ErrValidation)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}
