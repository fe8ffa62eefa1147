package common

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error with an HTTP status. middleware.ErrorHandler renders
// Message and Fields; Cause is logged, never sent to the client.
type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
	Cause   error          `json:"-"`
}

func (e APIError) Error() string {
	return e.Message
}

func (e APIError) Unwrap() error {
	return e.Cause
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// Wrap hides cause behind message.
func Wrap(status int, cause error, message string) APIError {
	return APIError{Status: status, Message: message, Cause: cause}
}

// StatusOf returns the status carried by err, or 500 for any other error.
func StatusOf(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}
