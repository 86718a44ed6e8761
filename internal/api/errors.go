package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned when the request could not be completed at the
	// transport level or the response body could not be decoded.
	ErrNetwork = errors.New("network error")
	// ErrAuthExpired is returned when a bearer-authenticated call is
	// rejected or attempted without a token.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrInvalidCredentials is returned when token issuance rejects the
	// username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSensorNotFound is returned when a sensor id does not exist.
	ErrSensorNotFound = errors.New("sensor not found")
)

// StatusError is a non-2xx response that does not map to a sentinel error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
