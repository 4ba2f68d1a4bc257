// Package apperr defines the error taxonomy shared by the emergency
// department services and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrBedUnavailable    = errors.New("bed unavailable")
	ErrAlreadyOnDuty     = errors.New("already on duty")
	ErrNotFound          = errors.New("not found")
	ErrAmbiguousShift    = errors.New("ambiguous shift")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
)

// StatusCode returns the HTTP status that represents err.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBedUnavailable),
		errors.Is(err, ErrAlreadyOnDuty),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAmbiguousShift):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts a service error into an echo.HTTPError. Internal errors
// are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}
