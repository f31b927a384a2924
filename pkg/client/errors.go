package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// maxErrorBodyBytes bounds how much of an error response body is kept for diagnosis.
const maxErrorBodyBytes = 512

// TransientRequestError is a failure that is retried inside the client:
// network errors, timeouts, HTTP 5xx and HTTP 429.
type TransientRequestError struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	ErrorClass ErrorClass
	// RetryAfter is the raw Retry-After header of the failed response, if any.
	RetryAfter string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransientRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("langfuse %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("langfuse %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientRequestError) Unwrap() error {
	return e.Err
}

// FatalRequestError is a failure that is never retried: non-2xx responses other
// than 429 and 5xx, and 2xx responses whose body is not a page envelope.
type FatalRequestError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// Body holds the start of the response body.
	Body string
	Err  error
}

// Error implements the error interface.
func (e *FatalRequestError) Error() string {
	msg := fmt.Sprintf("langfuse %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FatalRequestError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassDecode:
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classifyStatus maps a non-2xx status code to its error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// errorClassOf extracts the class carried by a client error.
func errorClassOf(err error) ErrorClass {
	var transient *TransientRequestError
	if errors.As(err, &transient) {
		return transient.ErrorClass
	}
	var fatal *FatalRequestError
	if errors.As(err, &fatal) {
		return fatal.ErrorClass
	}
	return ""
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}
	return string(body)
}
