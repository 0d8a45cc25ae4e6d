package errors

import (
	stderrors "errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range input. It is detected
// before any gateway call and is never retryable.
type ValidationError struct {
	Code    ErrorCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// NewValidationError creates a field-level validation error.
func NewValidationError(code ErrorCode, field, message string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message}
}

// BusinessError reports a business-rule violation. It carries a stable code
// and a remediation hint for operators; the core never retries it.
type BusinessError struct {
	Code        ErrorCode
	Message     string
	Remediation string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("business rule: %s: %s", e.Code, e.Message)
}

// NewBusinessError creates a business-rule error.
func NewBusinessError(code ErrorCode, message, remediation string) *BusinessError {
	return &BusinessError{Code: code, Message: message, Remediation: remediation}
}

// GatewayError reports a failure from a third-party payment gateway, mapped
// into the standard taxonomy by the owning adapter.
type GatewayError struct {
	Code        ErrorCode
	Gateway     string
	Message     string
	GatewayCode string // raw code from the gateway response, if any
	Retryable   bool
	Err         error
}

func (e *GatewayError) Error() string {
	if e.GatewayCode != "" {
		return fmt.Sprintf("gateway %s: %s (%s): %s", e.Gateway, e.Code, e.GatewayCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Gateway, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewGatewayError creates a gateway error with retryability derived from the code.
func NewGatewayError(code ErrorCode, gateway, message string) *GatewayError {
	return &GatewayError{Code: code, Gateway: gateway, Message: message, Retryable: code.IsRetryable()}
}

// NewCircuitOpenError is the distinguished error raised when a gateway's
// circuit breaker rejects a call. It short-circuits retries; the dependency
// is known down and hammering it helps nobody.
func NewCircuitOpenError(gateway string) *GatewayError {
	return &GatewayError{
		Code:      ErrCodeCircuitOpen,
		Gateway:   gateway,
		Message:   "circuit breaker open, gateway temporarily unavailable",
		Retryable: false,
	}
}

// UnsupportedGatewayError reports a gateway type with no registered adapter.
// This is fatal misconfiguration, caught at startup where possible.
type UnsupportedGatewayError struct {
	Gateway string
}

func (e *UnsupportedGatewayError) Error() string {
	return fmt.Sprintf("unsupported gateway type: %s", e.Gateway)
}

// AsValidation unwraps err to a ValidationError if one is in the chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := stderrors.As(err, &ve)
	return ve, ok
}

// AsBusiness unwraps err to a BusinessError if one is in the chain.
func AsBusiness(err error) (*BusinessError, bool) {
	var be *BusinessError
	ok := stderrors.As(err, &be)
	return be, ok
}

// AsGateway unwraps err to a GatewayError if one is in the chain.
func AsGateway(err error) (*GatewayError, bool) {
	var ge *GatewayError
	ok := stderrors.As(err, &ge)
	return ge, ok
}

// Retryable reports whether err may succeed on retry. Gateway errors carry an
// explicit flag; validation and business errors never retry.
func Retryable(err error) bool {
	if ge, ok := AsGateway(err); ok {
		return ge.Retryable
	}
	return false
}

// CodeOf extracts the taxonomy code from any typed error in the chain,
// falling back to internal_error.
func CodeOf(err error) ErrorCode {
	if ve, ok := AsValidation(err); ok {
		return ve.Code
	}
	if be, ok := AsBusiness(err); ok {
		return be.Code
	}
	if ge, ok := AsGateway(err); ok {
		return ge.Code
	}
	var ue *UnsupportedGatewayError
	if stderrors.As(err, &ue) {
		return ErrCodeUnsupportedGateway
	}
	return ErrCodeInternalError
}
