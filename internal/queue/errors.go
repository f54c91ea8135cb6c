// ABOUTME: Error taxonomy for remote queue calls
// ABOUTME: Sentinel errors plus a typed APIError carrying HTTP status and body

package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the backend rejected our credential. Callers
	// treat this as fatal to the whole session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError is any non-2xx response other than 401/404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("queue api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("queue api: status %d: %s", e.StatusCode, e.Message)
}
