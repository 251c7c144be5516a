// Package httputil provides HTTP handler utilities for consistent JSON
// encoding, Matrix-style error responses, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Matrix client-server API error codes used by the login surface.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// MatrixError is the wire shape of a client-server API error body.
type MatrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
	// RetryAfterMS accompanies M_LIMIT_EXCEEDED.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteMatrixError writes a Matrix error body with the given status
func WriteMatrixError(w http.ResponseWriter, status int, errcode, message string) {
	WriteJSON(w, status, MatrixError{ErrCode: errcode, Error: message})
}

// WriteRateLimited writes M_LIMIT_EXCEEDED with the Retry-After header
// and the retry_after_ms body field both set
func WriteRateLimited(w http.ResponseWriter, retryAfterMS int64, message string) {
	seconds := retryAfterMS / 1000
	if retryAfterMS%1000 != 0 {
		seconds++
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	WriteJSON(w, http.StatusTooManyRequests, MatrixError{
		ErrCode:      ErrCodeLimitExceeded,
		Error:        message,
		RetryAfterMS: retryAfterMS,
	})
}

// WriteForbidden writes M_FORBIDDEN (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteMatrixError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// WriteMissingParam writes M_MISSING_PARAM (400)
func WriteMissingParam(w http.ResponseWriter, message string) {
	WriteMatrixError(w, http.StatusBadRequest, ErrCodeMissingParam, message)
}

// WriteInternalError writes M_UNKNOWN (500) without leaking the cause
func WriteInternalError(w http.ResponseWriter) {
	WriteMatrixError(w, http.StatusInternalServerError, ErrCodeUnknown, "internal server error")
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}
