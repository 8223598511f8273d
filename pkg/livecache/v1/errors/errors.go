package errors

import (
	"errors"
	"fmt"
)

// --- livecache error types ---

// ErrCacheDisposed is returned by any operation that needs a live writer once
// the cache has been disposed.
var ErrCacheDisposed = errors.New("cache disposed")

// ErrCacheSealed is returned by edits on a cache whose upstream source has
// completed. The cache remains readable.
var ErrCacheSealed = errors.New("cache source completed, cache is read-only")

// ErrSubscriptionClosed is reported by a subscription that was closed by its owner.
var ErrSubscriptionClosed = errors.New("subscription closed")

// ConfigError represents an error encountered while loading, parsing or
// applying cache configuration or options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that some input (configuration document, schema
// version, option value) failed validation checks.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// PolicyViolationError signifies that delivery could not proceed because it
// would violate a configured policy (e.g. subscriber overflow strategy 'error').
type PolicyViolationError struct {
	PolicyType string // e.g., "SubscriberPolicy"
	Reason     string
	Cause      error
}

func NewPolicyViolationError(policyType, reason string, cause error) *PolicyViolationError {
	return &PolicyViolationError{PolicyType: policyType, Reason: reason, Cause: cause}
}
func (e *PolicyViolationError) Error() string {
	msg := fmt.Sprintf("policy violation (%s): %s", e.PolicyType, e.Reason)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}
func (e *PolicyViolationError) Unwrap() error { return e.Cause }

// InvalidMutationError reports a malformed mutation batch. It is raised before
// any mutation in the batch is applied, so the store is left untouched.
type InvalidMutationError struct {
	Index  int // Position of the offending mutation in the batch, -1 for the batch itself.
	Reason string
	Cause  error
}

func NewInvalidMutationError(index int, reason string, cause error) *InvalidMutationError {
	return &InvalidMutationError{Index: index, Reason: reason, Cause: cause}
}
func (e *InvalidMutationError) Error() string {
	msg := fmt.Sprintf("invalid mutation: %s", e.Reason)
	if e.Index >= 0 {
		msg = fmt.Sprintf("invalid mutation at index %d: %s", e.Index, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}
func (e *InvalidMutationError) Unwrap() error { return e.Cause }

// SubscriberFaultError represents a failure inside one subscriber's own
// processing of a delivered item. It terminates only that subscriber.
type SubscriberFaultError struct {
	SubscriptionID string
	Cause          error
}

func NewSubscriberFaultError(subscriptionID string, cause error) *SubscriberFaultError {
	return &SubscriberFaultError{SubscriptionID: subscriptionID, Cause: cause}
}
func (e *SubscriberFaultError) Error() string {
	if e.SubscriptionID == "" {
		return fmt.Sprintf("subscriber fault: %v", e.Cause)
	}
	return fmt.Sprintf("subscriber '%s' fault: %v", e.SubscriptionID, e.Cause)
}
func (e *SubscriberFaultError) Unwrap() error { return e.Cause }

// WriterFaultError represents an unrecoverable failure while applying a write
// or computing its diff. It terminates the cache for all subscribers.
type WriterFaultError struct {
	CacheName string
	Cause     error
}

func NewWriterFaultError(cacheName string, cause error) *WriterFaultError {
	return &WriterFaultError{CacheName: cacheName, Cause: cause}
}
func (e *WriterFaultError) Error() string {
	if e.CacheName == "" {
		return fmt.Sprintf("writer fault: %v", e.Cause)
	}
	return fmt.Sprintf("cache '%s' writer fault: %v", e.CacheName, e.Cause)
}
func (e *WriterFaultError) Unwrap() error { return e.Cause }

// IsWriterFault checks if an error is a WriterFaultError using errors.As.
func IsWriterFault(err error) bool {
	var wf *WriterFaultError
	return errors.As(err, &wf)
}

// IsSubscriberFault checks if an error is a SubscriberFaultError using errors.As.
func IsSubscriberFault(err error) bool {
	var sf *SubscriberFaultError
	return errors.As(err, &sf)
}

// PanicError wraps a value recovered from a panic so it can travel as an error.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// FromPanic converts a recovered value into an error, keeping errors as-is.
func FromPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return &PanicError{Value: err}
	}
	return &PanicError{Value: r}
}
