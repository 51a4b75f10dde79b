package fetch

import (
	"errors"
	"fmt"
)

// ErrTooManyRedirects is returned when a fetch exceeds the redirect bound.
var ErrTooManyRedirects = errors.New("more than allowed redirects")

// BuildError marks request construction failures (malformed URL or headers).
// These are fatal and never retried.
type BuildError struct {
	URL string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build request for %s: %v", e.URL, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// RequestError is returned when a request ultimately failed: a fatal status,
// a fatal transport error, or exhausted retries.
type RequestError struct {
	Op     string
	URL    string
	Status int // 0 when the failure happened below HTTP
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed during %s for %s: status %d", e.Op, e.URL, e.Status)
	}

	return fmt.Sprintf("request failed during %s for %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
