package session

import (
	"context"
	"errors"

	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
)

// Status is the terminal outcome of a relay session, reported to the host.
type Status string

const (
	StatusClosed             Status = "closed"
	StatusUpstreamFailed     Status = "upstream_failed"
	StatusClientDisconnected Status = "client_disconnected"
)

func (s Status) String() string { return string(s) }

// ErrClientDisconnected reports that the browser side of the session ended,
// either by closing the socket or because a read or write failed.
var ErrClientDisconnected = errors.New("session: client disconnected")

func statusFor(err error) Status {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusClosed
	case errors.Is(err, realtime.ErrConnectionClosed):
		return StatusUpstreamFailed
	case errors.Is(err, ErrClientDisconnected):
		return StatusClientDisconnected
	default:
		return StatusClosed
	}
}
