package errors

// ErrorCode represents a machine-readable error identifier for callers and
// operator tooling.
type ErrorCode string

// Validation errors (request input validation)
const (
	ErrCodeMissingField             ErrorCode = "missing_field"
	ErrCodeInvalidField             ErrorCode = "invalid_field"
	ErrCodeInvalidAmount            ErrorCode = "invalid_amount"
	ErrCodeAmountExceedsTransaction ErrorCode = "amount_exceeds_transaction"
	ErrCodeInvalidCurrency          ErrorCode = "invalid_currency"
)

// Business rule errors
const (
	ErrCodeInsufficientBalance      ErrorCode = "insufficient_balance"
	ErrCodeBankAccountNotFound      ErrorCode = "bank_account_not_found"
	ErrCodeBankAccountUnverified    ErrorCode = "bank_account_unverified"
	ErrCodeWalletTokenExpired       ErrorCode = "wallet_token_expired"
	ErrCodeWalletTokenMissing       ErrorCode = "wallet_token_missing"
	ErrCodeInvalidRefundMethod      ErrorCode = "invalid_refund_method"
	ErrCodeUnsupportedPaymentMethod ErrorCode = "unsupported_payment_method"
	ErrCodeInvalidStateTransition   ErrorCode = "invalid_state_transition"
	ErrCodeRefundNotFound           ErrorCode = "refund_not_found"
	ErrCodeDuplicateRefund          ErrorCode = "duplicate_refund"
	ErrCodeTransactionNotFound      ErrorCode = "transaction_not_found"
	ErrCodeTransactionNotRefundable ErrorCode = "transaction_not_refundable"
	ErrCodeApprovalPending          ErrorCode = "approval_pending"
)

// Gateway errors
const (
	ErrCodeGatewayAuthentication ErrorCode = "gateway_authentication"
	ErrCodeGatewayValidation     ErrorCode = "gateway_validation"
	ErrCodeGatewayTimeout        ErrorCode = "gateway_timeout"
	ErrCodeGatewayConnection     ErrorCode = "gateway_connection"
	ErrCodeGatewayRateLimited    ErrorCode = "gateway_rate_limited"
	ErrCodeGatewayServerError    ErrorCode = "gateway_server_error"
	ErrCodeCircuitOpen           ErrorCode = "circuit_open"
	ErrCodeUnsupportedGateway    ErrorCode = "unsupported_gateway"
)

// Credential and configuration errors
const (
	ErrCodeCredentialsNotFound ErrorCode = "credentials_not_found"
	ErrCodeCredentialsInvalid  ErrorCode = "credentials_invalid"
	ErrCodeConfigError         ErrorCode = "config_error"
	ErrCodeDatabaseError       ErrorCode = "database_error"
	ErrCodeInternalError       ErrorCode = "internal_error"
)

// IsRetryable reports whether an error code represents a transient condition
// worth retrying. Validation, business-rule, and authentication failures are
// never retryable; a human has to change something first.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeGatewayTimeout,
		ErrCodeGatewayConnection,
		ErrCodeGatewayRateLimited,
		ErrCodeGatewayServerError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status an API layer should map this code to.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - input validation
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeAmountExceedsTransaction,
		ErrCodeInvalidCurrency:
		return 400

	// 404 Not Found
	case ErrCodeRefundNotFound,
		ErrCodeTransactionNotFound:
		return 404

	// 409 Conflict - state conflicts
	case ErrCodeInvalidStateTransition,
		ErrCodeApprovalPending,
		ErrCodeDuplicateRefund,
		ErrCodeTransactionNotRefundable:
		return 409

	// 422 Unprocessable Entity - business rule violations
	case ErrCodeInsufficientBalance,
		ErrCodeBankAccountNotFound,
		ErrCodeBankAccountUnverified,
		ErrCodeWalletTokenExpired,
		ErrCodeWalletTokenMissing,
		ErrCodeInvalidRefundMethod,
		ErrCodeUnsupportedPaymentMethod:
		return 422

	// 502 Bad Gateway - upstream gateway failures
	case ErrCodeGatewayAuthentication,
		ErrCodeGatewayValidation,
		ErrCodeGatewayConnection,
		ErrCodeGatewayRateLimited,
		ErrCodeGatewayServerError,
		ErrCodeUnsupportedGateway:
		return 502

	// 503 Service Unavailable - known-down dependency
	case ErrCodeCircuitOpen:
		return 503

	// 504 Gateway Timeout
	case ErrCodeGatewayTimeout:
		return 504

	default:
		return 500
	}
}
