package api

import (
	"net/http"
)

// Code is the machine-readable error code carried in the envelope.
type Code string

const (
	CodeValidation   Code = "VALIDATION_FAILED"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeNotReady     Code = "NOT_READY"
	CodeInternal     Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeValidation:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeNotReady:     http.StatusServiceUnavailable,
	CodeInternal:     http.StatusInternalServerError,
}

// Status is the HTTP status for c. Codes without a mapping are request
// problems and answer 400.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusBadRequest
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// Error writes the envelope with the status belonging to code.
func Error(w http.ResponseWriter, requestID string, code Code, message string) {
	WriteJSON(w, code.Status(), ErrorResponse{Error: APIError{Code: code, Message: message, RequestID: requestID}})
}

// Invalid rejects one input field.
func Invalid(w http.ResponseWriter, requestID, field, reason, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: APIError{
		Code:      CodeValidation,
		Message:   message,
		Details:   map[string]any{"field": field, "reason": reason},
		RequestID: requestID,
	}})
}

// Internal never echoes the underlying error.
func Internal(w http.ResponseWriter, requestID string) {
	Error(w, requestID, CodeInternal, "Internal server error")
}
