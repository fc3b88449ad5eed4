// Package apierror maps errors from the relay's dependencies onto the HTTP
// error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v3"

	"github.com/vango-go/vai-relay/pkg/core"
	"github.com/vango-go/vai-relay/pkg/core/voice/oneshot"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) && oaiErr != nil {
		return fromOpenAI(oaiErr, requestID)
	}

	var connErr *realtime.ConnectionError
	if errors.As(err, &connErr) && connErr != nil {
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   "upstream realtime service unavailable",
			Code:      "upstream_unavailable",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	if errors.Is(err, oneshot.ErrEmptyReply) {
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   "upstream returned no reply",
			Code:      "empty_reply",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: do not leak details.
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// fromOpenAI keeps the caller-facing meaning of an upstream status: client
// mistakes stay 4xx, upstream credential and server failures become 502.
func fromOpenAI(e *openai.Error, requestID string) (*core.Error, int) {
	out := &core.Error{
		Message:   e.Message,
		Code:      e.Code,
		Param:     e.Param,
		RequestID: requestID,
	}
	if out.Message == "" {
		out.Message = http.StatusText(e.StatusCode)
	}
	switch {
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		out.Type = core.ErrInvalidRequest
		return out, http.StatusBadRequest
	case e.StatusCode == http.StatusNotFound:
		out.Type = core.ErrNotFound
		return out, http.StatusNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		out.Type = core.ErrRateLimit
		return out, http.StatusTooManyRequests
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		out.Type = core.ErrUpstream
		out.Message = "upstream rejected the relay credential"
		return out, http.StatusBadGateway
	case e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == 529:
		out.Type = core.ErrOverloaded
		return out, http.StatusServiceUnavailable
	default:
		out.Type = core.ErrUpstream
		return out, http.StatusBadGateway
	}
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrUpstream, core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
