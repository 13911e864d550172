package client

import (
	"errors"
	"fmt"
	"net/http"
)

// PermissionHint is attached to 403 failures. A token missing a scope or a
// base is the most common misconfiguration and the hardest to spot.
const PermissionHint = "HINT: Ensure your token has the correct permissions!"

// maxErrorBody bounds how much of a failed response body ends up in an error.
const maxErrorBody = 512

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// APIError is returned for every non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	ErrorClass ErrorClass
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("Airtable %s error (status %d): %s %s: %s",
		e.ErrorClass, e.StatusCode, e.Method, e.Path, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if hint := e.Hint(); hint != "" {
		msg += "\n\n" + hint
	}
	return msg
}

// Hint returns a remediation hint for the failure, or "".
func (e *APIError) Hint() string {
	if e.StatusCode == http.StatusForbidden {
		return PermissionHint
	}
	return ""
}

// NetworkError is returned when no response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("Airtable network error: %s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsForbidden reports whether err is (or wraps) a 403 APIError.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// StatusCode returns the HTTP status of an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
