// Package errors provides standardized error types for the domain layer.
// These errors provide consistent error handling across the monitors,
// the attestation aggregator, and the relay submitter, and enable proper
// error categorization for HTTP responses and retry decisions.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request is forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrRateLimit indicates rate limit exceeded
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrServiceUnavailable indicates the service is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Bridge error categories
var (
	// ErrConnectivity indicates a chain or destination endpoint could not be
	// reached; recovered locally via bounded reconnect before escalating
	ErrConnectivity = errors.New("endpoint unreachable")

	// ErrMalformedEvent indicates an on-chain event could not be parsed
	// (unparseable recipient, non-numeric amount); dropped, never fatal
	ErrMalformedEvent = errors.New("malformed chain event")

	// ErrInvalidSignature indicates a signature failed cryptographic verification
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownAttester indicates the signer is not in the configured attester set
	ErrUnknownAttester = errors.New("unknown attester")

	// ErrAlreadySigned indicates the attester already contributed a signature;
	// treated as an idempotent no-op by callers
	ErrAlreadySigned = errors.New("attester already signed")

	// ErrDeterministicRejection indicates the destination rejected the
	// transaction for a reason that will not change on retry
	ErrDeterministicRejection = errors.New("deterministic destination rejection")

	// ErrAlreadyRelayed indicates the destination reports the message as
	// already processed; treated as success by the submitter
	ErrAlreadyRelayed = errors.New("message already relayed")

	// ErrTransientDispatch indicates a destination failure that may succeed
	// on retry (dropped transaction, pool eviction, finality timeout)
	ErrTransientDispatch = errors.New("transient dispatch failure")

	// ErrTerminalState indicates an operation on an attestation or relay job
	// that has reached a terminal state
	ErrTerminalState = errors.New("terminal state")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// IsRetryable returns true if the error is retryable
func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// UnauthorizedError creates an unauthorized error
func UnauthorizedError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// ForbiddenError creates a forbidden error
func ForbiddenError(message string) *DomainError {
	return &DomainError{
		Err:     ErrForbidden,
		Code:    "FORBIDDEN",
		Message: message,
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// RateLimitError creates a rate limit error
func RateLimitError(limit int, window string) *DomainError {
	return &DomainError{
		Err:     ErrRateLimit,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "rate limit exceeded",
		Details: map[string]interface{}{
			"limit":  limit,
			"window": window,
		},
	}
}

// ServiceUnavailableError creates a service unavailable error
func ServiceUnavailableError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// ConnectivityError creates a connectivity error for a chain endpoint.
// It is retryable up to the monitor's bounded reconnect policy.
func ConnectivityError(chain string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrConnectivity,
		Code:      "CONNECTION_ERROR",
		Message:   fmt.Sprintf("cannot reach %s endpoint", chain),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// MalformedEventError creates an error for an unparseable chain event.
// Never retryable; the event is logged and dropped.
func MalformedEventError(chain, txRef, reason string) *DomainError {
	return &DomainError{
		Err:     ErrMalformedEvent,
		Code:    "MALFORMED_EVENT",
		Message: reason,
		Details: map[string]interface{}{
			"chain":        chain,
			"tx_reference": txRef,
		},
	}
}

// InvalidSignatureError creates a signature verification failure
func InvalidSignatureError(attesterID string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidSignature,
		Code:    "INVALID_SIGNATURE",
		Message: fmt.Sprintf("signature from attester %s failed verification", attesterID),
	}
}

// UnknownAttesterError creates an unknown attester error
func UnknownAttesterError(attesterID string) *DomainError {
	return &DomainError{
		Err:     ErrUnknownAttester,
		Code:    "UNKNOWN_ATTESTER",
		Message: fmt.Sprintf("attester %s is not in the configured set", attesterID),
	}
}

// AlreadySignedError creates an idempotent duplicate-signer error
func AlreadySignedError(attesterID string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadySigned,
		Code:    "ALREADY_SIGNED",
		Message: fmt.Sprintf("attester %s already signed this message", attesterID),
	}
}

// DeterministicRejectionError creates a non-retryable destination rejection
func DeterministicRejectionError(domain uint32, reason string) *DomainError {
	return &DomainError{
		Err:     ErrDeterministicRejection,
		Code:    "DESTINATION_REJECTED",
		Message: reason,
		Details: map[string]interface{}{
			"destination_domain": domain,
		},
	}
}

// AlreadyRelayedError creates the "already processed" rejection that the
// submitter converts into a success result.
func AlreadyRelayedError(messageHash string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyRelayed,
		Code:    "ALREADY_RELAYED",
		Message: "message already relayed on destination",
		Details: map[string]interface{}{
			"message_hash": messageHash,
		},
	}
}

// TransientDispatchError creates a retryable destination failure
func TransientDispatchError(domain uint32, err error) *DomainError {
	de := &DomainError{
		Err:       ErrTransientDispatch,
		Code:      "TRANSIENT_DISPATCH_FAILURE",
		Message:   "destination dispatch failed transiently",
		Retryable: true,
		Details: map[string]interface{}{
			"destination_domain": domain,
		},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

// TerminalStateError creates an error for mutations of terminal records
func TerminalStateError(resource, state string) *DomainError {
	return &DomainError{
		Err:     ErrTerminalState,
		Code:    "TERMINAL_STATE",
		Message: fmt.Sprintf("%s is in terminal state %s", resource, state),
	}
}

// Error helpers for common patterns

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if an error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized checks if an error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsConnectivity checks if an error is a connectivity error
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// IsMalformedEvent checks if an error is a malformed event error
func IsMalformedEvent(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}

// IsInvalidSignature checks if an error is a signature verification failure
func IsInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

// IsUnknownAttester checks if an error is an unknown attester error
func IsUnknownAttester(err error) bool {
	return errors.Is(err, ErrUnknownAttester)
}

// IsAlreadySigned checks if an error is a duplicate-signer no-op
func IsAlreadySigned(err error) bool {
	return errors.Is(err, ErrAlreadySigned)
}

// IsDeterministicRejection checks if an error is a non-retryable rejection
func IsDeterministicRejection(err error) bool {
	return errors.Is(err, ErrDeterministicRejection) || errors.Is(err, ErrAlreadyRelayed)
}

// IsAlreadyRelayed checks if an error is the idempotent relay-race rejection
func IsAlreadyRelayed(err error) bool {
	return errors.Is(err, ErrAlreadyRelayed)
}

// IsTransientDispatch checks if an error is a retryable dispatch failure
func IsTransientDispatch(err error) bool {
	return errors.Is(err, ErrTransientDispatch)
}

// IsTerminalState checks if an error is a terminal state violation
func IsTerminalState(err error) bool {
	return errors.Is(err, ErrTerminalState)
}

// ShouldRetry reports whether an operation that returned err is worth
// retrying. Deterministic rejections and validation failures never are.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if IsDeterministicRejection(err) || IsInvalidInput(err) || IsMalformedEvent(err) {
		return false
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCode wraps an error with a code and message
func WrapWithCode(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}
