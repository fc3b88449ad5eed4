package realtime

import (
	"errors"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Event
	}{
		{"text delta", `{"type":"response.text.delta","response_id":"r","delta":"hi"}`, TextDelta{ResponseID: "r", Delta: "hi"}},
		{"audio transcript delta", `{"type":"response.audio_transcript.delta","response_id":"r","delta":"yo"}`, TextDelta{ResponseID: "r", Delta: "yo"}},
		{"ga text delta", `{"type":"response.output_text.delta","response_id":"r","delta":"x"}`, TextDelta{ResponseID: "r", Delta: "x"}},
		{"created", `{"type":"response.created","response":{"id":"r9","status":"in_progress"}}`, ResponseCreated{ResponseID: "r9"}},
		{"committed", `{"type":"input_audio_buffer.committed","item_id":"it"}`, InputCommitted{ItemID: "it"}},
		{"error", `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`, ServiceError{Type: "invalid_request_error", Code: "bad", Message: "nope"}},
		{"unknown", `{"type":"rate_limits.updated"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeEvent([]byte(tc.in))
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	for _, in := range []string{
		`{`,
		`{"delta":"x"}`,
		`{"type":"response.audio.delta","delta":"***"}`,
	} {
		_, err := decodeEvent([]byte(in))
		var merr *MalformedEventError
		if !errors.As(err, &merr) {
			t.Fatalf("decodeEvent(%s) err=%v, want *MalformedEventError", in, err)
		}
	}
}

func TestParseTurnDetectionMode(t *testing.T) {
	if m, err := ParseTurnDetectionMode("SERVER_VAD"); err != nil || m != TurnDetectionServerVAD {
		t.Fatalf("got %q, %v", m, err)
	}
	if m, err := ParseTurnDetectionMode("manual"); err != nil || m != TurnDetectionClientCommit {
		t.Fatalf("got %q, %v", m, err)
	}
	if _, err := ParseTurnDetectionMode("semantic"); err == nil {
		t.Fatalf("expected error")
	}
}
