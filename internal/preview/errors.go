package preview

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCurrentUser indicates the session store has no local account yet
	ErrNoCurrentUser = errors.New("no current user in session")

	// ErrNoActiveStream indicates the current user has no active screen-share stream
	ErrNoActiveStream = errors.New("no active stream for current user")
)

// RemoteSubmitError indicates the remote preview submission failed with a
// non-recoverable status. Rate-limited submissions are retried internally
// and never surface as this error.
type RemoteSubmitError struct {
	StreamKey string
	Err       error
}

func (e *RemoteSubmitError) Error() string {
	return fmt.Sprintf("remote submit for stream %s failed: %v", e.StreamKey, e.Err)
}

func (e *RemoteSubmitError) Unwrap() error {
	return e.Err
}
