package nexus

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the store has no resource at the requested URL
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a write carries a stale revision
	ErrConflict = errors.New("revision conflict")

	// ErrUnauthorized is returned when the credentials are missing or rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired is returned before a call is made with an expired token
	ErrTokenExpired = errors.New("access token expired")

	// ErrUnexpectedResponse is returned when a response body cannot be understood
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// HTTPError is a non-success response of the store
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is maps status codes onto the package sentinels
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsNotFound checks if an error means the resource does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a stale revision
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
