package client

import (
	"errors"
	"fmt"
)

// ErrCancelled is the cancellation cause for a user-initiated abort.
// Cancellation is not a transport failure: it never triggers the
// synchronous fallback path.
var ErrCancelled = errors.New("session cancelled")

// ErrStreamIdle is the cancellation cause when the stream produced no
// bytes for the configured idle window. It is a transport failure and
// escalates to the fallback path.
var ErrStreamIdle = errors.New("stream idle timeout")

// StatusError is a transport error carrying a non-success HTTP status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream endpoint returned status %d", e.StatusCode)
}
