// Package errors carries the error codes the HTTP surface reports and the
// status each code maps to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeMalformedFrame     Code = "MALFORMED_FRAME"
	CodeWriterBusy         Code = "WRITER_BUSY"
	CodeNotAccepting       Code = "NOT_ACCEPTING"
	CodeFinalizeIOFailure  Code = "FINALIZE_IO_FAILURE"
	CodeRateLimit          Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[Code]int{
	CodeInvalidInput:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodePermissionDenied:   http.StatusForbidden,
	CodeMalformedFrame:     http.StatusBadRequest,
	CodeWriterBusy:         http.StatusConflict,
	CodeNotAccepting:       http.StatusServiceUnavailable,
	CodeFinalizeIOFailure:  http.StatusInternalServerError,
	CodeRateLimit:          http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatus returns the response status for c. Unknown codes are 500.
func (c Code) HTTPStatus() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is an error with a client-facing code and message. Cause stays
// server-side; only Code, Message and Details reach the response body.
type AppError struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]any
	// RetryAfter, when set, is sent as a Retry-After header.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// With attaches a detail reported to the client.
func (e *AppError) With(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Body is the JSON response payload.
func (e *AppError) Body() map[string]any {
	body := map[string]any{
		"error":   string(e.Code),
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return body
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func WriterBusy(filePath string) *AppError {
	return New(CodeWriterBusy, "A recording is already in progress").With("file_path", filePath)
}

func NotAccepting() *AppError {
	return New(CodeNotAccepting, "Server is not accepting connections")
}

func FinalizeFailed(err error, filePath string) *AppError {
	e := Wrap(err, CodeFinalizeIOFailure, "Failed to finalize recording")
	if filePath != "" {
		e.With("file_path", filePath)
	}
	return e
}

func RateLimited(retryAfter time.Duration) *AppError {
	e := New(CodeRateLimit, "Rate limit exceeded")
	e.RetryAfter = retryAfter
	return e
}

func Internal(err error) *AppError {
	return Wrap(err, CodeInternal, "Internal server error")
}
