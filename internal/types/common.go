// Package types holds the JSON envelope every diagnostics API response uses.
package types

import (
	"net/http"
	"time"
)

// ErrorCode classifies API failures
type ErrorCode string

const (
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrUnavailable      ErrorCode = "UNAVAILABLE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

var statusByCode = map[ErrorCode]int{
	ErrNotFound:         http.StatusNotFound,
	ErrInvalidRequest:   http.StatusBadRequest,
	ErrPermissionDenied: http.StatusForbidden,
	ErrUnavailable:      http.StatusServiceUnavailable,
}

// HTTPStatusCode maps the code to a response status; unknown codes are 500
func (e ErrorCode) HTTPStatusCode() int {
	if status, ok := statusByCode[e]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// APIError is the error member of a failed response
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details == "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code) + ": " + e.Message + " (" + e.Details + ")"
}

// Meta is attached to every response
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

func newMeta(requestID string) *Meta {
	return &Meta{Timestamp: time.Now().UTC(), RequestID: requestID}
}

// Response wraps a single result or an error
type Response[T any] struct {
	Success  bool      `json:"success"`
	Data     T         `json:"data,omitempty"`
	Error    *APIError `json:"error,omitempty"`
	Metadata *Meta     `json:"metadata,omitempty"`
}

// OK wraps data
func OK[T any](data T, requestID string) *Response[T] {
	return &Response[T]{Success: true, Data: data, Metadata: newMeta(requestID)}
}

// Fail builds an error response. details is optional.
func Fail(code ErrorCode, message, details, requestID string) *Response[struct{}] {
	return &Response[struct{}]{
		Error:    &APIError{Code: code, Message: message, Details: details},
		Metadata: newMeta(requestID),
	}
}

// Page wraps one page of a list
type Page[T any] struct {
	Success  bool  `json:"success"`
	Data     []T   `json:"data"`
	Limit    int   `json:"limit"`
	Offset   int   `json:"offset"`
	Metadata *Meta `json:"metadata,omitempty"`
}

// NewPage wraps data; a nil slice is rendered as []
func NewPage[T any](data []T, limit, offset int, requestID string) *Page[T] {
	if data == nil {
		data = []T{}
	}
	return &Page[T]{Success: true, Data: data, Limit: limit, Offset: offset, Metadata: newMeta(requestID)}
}
