// Package simuverse provides a Go client for the SimuVerse agent API.
package simuverse

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the SimuVerse API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("simuverse: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsInvalidInput returns true if the server rejected the request body.
func IsInvalidInput(err error) bool {
	return statusIs(err, http.StatusBadRequest) || statusIs(err, http.StatusRequestEntityTooLarge)
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsProviderFailure returns true if the completion provider failed (502).
// The user turn has still been recorded on the server.
func IsProviderFailure(err error) bool { return statusIs(err, http.StatusBadGateway) }
