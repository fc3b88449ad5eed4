package realtime

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed reports that the upstream link has terminated. It is
// terminal: the session owning the link must be torn down.
var ErrConnectionClosed = errors.New("realtime: connection closed")

// ConnectionError reports a failed connect: handshake failure, credential
// rejection, or network error.
type ConnectionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("realtime: connect (status %d): %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("realtime: connect (status %d): %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("realtime: connect: %v", e.Err)
	}
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Unauthorized reports whether the upstream rejected the credential.
func (e *ConnectionError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// MalformedEventError reports an upstream frame that could not be decoded.
// It is recoverable: the caller logs it and keeps reading.
type MalformedEventError struct {
	Type string
	Err  error
}

func (e *MalformedEventError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("realtime: malformed %s event: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("realtime: malformed event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }
