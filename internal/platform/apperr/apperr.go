// Package apperr defines the error kinds shared by the OPD domain services
// and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind sentinels. Domain code wraps them with fmt.Errorf("...: %w", Kind)
// and callers test with errors.Is.
var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyComposition   = errors.New("empty composition")
	ErrNotFound           = errors.New("not found")
)

// Error codes returned in response bodies.
const (
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeConflict           = "CONFLICT"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeEmptyComposition   = "EMPTY_COMPOSITION"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// Response is the JSON body written for failed requests.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InvalidInput is a shorthand for a formatted ErrInvalidInput.
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Classify returns the HTTP status and response code for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, ErrEmptyComposition):
		return http.StatusUnprocessableEntity, CodeEmptyComposition
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed, CodePreconditionFailed
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// HTTPError converts a domain error into an echo.HTTPError carrying a
// Response body. Internal errors are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return echo.NewHTTPError(status, Response{Code: code, Message: msg}).SetInternal(err)
}
