package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/openai/openai-go/v3"

	"github.com/vango-go/vai-relay/pkg/core"
	"github.com/vango-go/vai-relay/pkg/core/voice/oneshot"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_DeadlineIs504(t *testing.T) {
	_, status := FromError(fmt.Errorf("chat: %w", context.DeadlineExceeded), "req_test")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d, want 504", status)
	}
}

func TestFromError_Overloaded_Is529(t *testing.T) {
	ce, status := FromError(&core.Error{Type: core.ErrOverloaded, Message: "overloaded"}, "req_test")
	if status != 529 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrOverloaded {
		t.Fatalf("type=%q", ce.Type)
	}
}

func TestFromError_CoreErrorGetsRequestID(t *testing.T) {
	in := core.NewInvalidRequestErrorWithParam("text is required", "text")
	ce, status := FromError(in, "req_abc")
	if status != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", status)
	}
	if ce.RequestID != "req_abc" || ce.Param != "text" {
		t.Fatalf("error=%+v", ce)
	}
	if in.RequestID != "" {
		t.Fatalf("input error mutated")
	}
}

func TestFromError_OpenAIStatuses(t *testing.T) {
	cases := []struct {
		status   int
		wantType core.ErrorType
		want     int
	}{
		{http.StatusBadRequest, core.ErrInvalidRequest, http.StatusBadRequest},
		{http.StatusUnauthorized, core.ErrUpstream, http.StatusBadGateway},
		{http.StatusTooManyRequests, core.ErrRateLimit, http.StatusTooManyRequests},
		{http.StatusServiceUnavailable, core.ErrOverloaded, http.StatusServiceUnavailable},
		{http.StatusInternalServerError, core.ErrUpstream, http.StatusBadGateway},
	}
	for _, tc := range cases {
		err := fmt.Errorf("transcribe: %w", &openai.Error{StatusCode: tc.status, Message: "boom", Code: "x"})
		ce, status := FromError(err, "req_test")
		if status != tc.want || ce.Type != tc.wantType {
			t.Fatalf("upstream %d: status=%d type=%q, want %d %q", tc.status, status, ce.Type, tc.want, tc.wantType)
		}
	}
}

func TestFromError_RealtimeConnectionIs502(t *testing.T) {
	err := &realtime.ConnectionError{StatusCode: 401, Err: errors.New("bad handshake")}
	ce, status := FromError(err, "req_test")
	if status != http.StatusBadGateway || ce.Code != "upstream_unavailable" {
		t.Fatalf("status=%d code=%q", status, ce.Code)
	}
}

func TestFromError_EmptyReplyIs502(t *testing.T) {
	_, status := FromError(oneshot.ErrEmptyReply, "req_test")
	if status != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", status)
	}
}

func TestFromError_UnknownHidesDetails(t *testing.T) {
	ce, status := FromError(errors.New("secret database path"), "req_test")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("status=%d message=%q", status, ce.Message)
	}
}
