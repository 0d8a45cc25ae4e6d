package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error format returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code, a human-readable message,
// and optional context.
type ErrorDetail struct {
	Code        ErrorCode      `json:"code"`
	Message     string         `json:"message"`
	Retryable   bool           `json:"retryable"`
	Field       string         `json:"field,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response with the status its code maps to.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Error.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError writes an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]any) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteFromError maps a domain error onto the wire format, carrying the
// field or remediation hint when the error has one.
func WriteFromError(w http.ResponseWriter, err error) {
	resp := NewErrorResponse(CodeOf(err), err.Error(), nil)
	if ve, ok := AsValidation(err); ok {
		resp.Error.Message = ve.Message
		resp.Error.Field = ve.Field
	}
	if be, ok := AsBusiness(err); ok {
		resp.Error.Message = be.Message
		resp.Error.Remediation = be.Remediation
	}
	resp.WriteJSON(w)
}
