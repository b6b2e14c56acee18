package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound means neither a directory listing nor a raw file exists at
// the requested revision and path.
var ErrNotFound = errors.New("remote: not found")

// ErrRevisionNotFound means a branch name could not be resolved, or a raw
// commit SHA does not exist on the remote.
var ErrRevisionNotFound = errors.New("remote: revision not found")

// Error wraps a transport failure, a non-2xx/404 response, or a malformed
// response body. It is never retried except for the single re-auth retry
// on 401 performed internally by Client.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote: %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
