package docstore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy. Configuration and authentication failures always reach the
// caller; the rest may be absorbed by the read cascade.
var (
	// ErrConfiguration means the backend is not provisioned (no project or credentials).
	ErrConfiguration = errors.New("document store not configured")

	// ErrAuthentication means the caller identity was rejected.
	ErrAuthentication = errors.New("document store rejected credentials")

	// ErrFetch means a read exhausted every fallback with a hard failure.
	ErrFetch = errors.New("fetch failed")

	// ErrWrite means a create, patch or delete was rejected.
	ErrWrite = errors.New("write rejected")

	// ErrDecode means the response did not have the expected shape.
	ErrDecode = errors.New("unexpected response shape")

	// ErrRateLimited is returned for HTTP 429.
	ErrRateLimited = errors.New("too many requests")

	// ErrIndexRequired is returned when a composite query needs a missing index.
	ErrIndexRequired = errors.New("query requires an index")

	// ErrUnavailable is returned when the store cannot be reached at all.
	ErrUnavailable = errors.New("document store unreachable")
)

// StatusError is a non-success HTTP response from the store.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("document store: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("document store: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status onto the sentinel the cascade reacts to.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuthentication
	case e.StatusCode == http.StatusBadRequest && mentionsIndex(e.Message):
		return ErrIndexRequired
	default:
		return nil
	}
}

func mentionsIndex(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "index")
}

// FetchError reports a read that could not produce any result.
type FetchError struct {
	Collection string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Collection, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

// WriteError reports a rejected create, patch or delete.
type WriteError struct {
	Op         string // "create", "patch" or "delete"
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// IsFatal reports errors that no retry or fallback can recover from.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrAuthentication)
}
