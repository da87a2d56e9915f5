package api

import (
	"errors"
	"fmt"
)

// maxErrBodySize caps the amount of response body read when building
// an error for an unexpected non-JSON status. This prevents unbounded
// memory usage when a large response arrives with a wrong status.
const maxErrBodySize = 4 << 10 // 4KB

var (
	// ErrUnexpectedStatusCode is the sentinel error wrapped by
	// [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
)

// UnexpectedStatusError is returned when a non-JSON response arrives
// with an error status. These responses are treated as transient and
// fall under the retry policy.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}
