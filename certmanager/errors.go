package certmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the certificate manager rejects the credentials or
	// cannot be reached while authenticating.
	ErrAuth = errors.New("certificate manager authentication failed")

	// ErrRegistry is returned when the certificate list cannot be fetched.
	ErrRegistry = errors.New("certificate manager request failed")

	// ErrRenewalFailed is returned when the renewal of a single certificate fails.
	ErrRenewalFailed = errors.New("certificate renewal failed")
)

// StatusError is a non-2xx response from the certificate manager.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}
