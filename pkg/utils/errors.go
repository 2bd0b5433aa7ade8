package utils

import (
	"fmt"
	"net/http"
)

// CustomError represents a custom application error
type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *CustomError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// NewValidationError returns an error for a request that failed
// validation
func NewValidationError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadRequest,
		Message: "Validation failed",
		Detail:  detail,
	}
}

// NewConfigError returns an error for missing or invalid configuration.
// Configuration errors are fatal at startup, never at runtime.
func NewConfigError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusInternalServerError,
		Message: "Configuration invalid",
		Detail:  detail,
	}
}

// NewAuthError returns an error for a failed portal login
func NewAuthError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusUnauthorized,
		Message: "Portal authentication failed",
		Detail:  detail,
	}
}

// NewPortalError returns an error for browser/portal failures that are
// not ordinary no-match outcomes
func NewPortalError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadGateway,
		Message: "Portal interaction failed",
		Detail:  detail,
	}
}
