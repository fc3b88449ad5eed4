package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one decoded upstream event.
type Event interface {
	EventType() string
}

// TranscriptCompleted carries the transcript of the user's committed input.
type TranscriptCompleted struct {
	ItemID     string
	Transcript string
}

// TextDelta is an incremental piece of response text (or of the spoken
// response's transcript).
type TextDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// AudioDelta is an incremental piece of synthesized response audio, decoded.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Audio      []byte
}

// ResponseCreated announces a new response and the id its deltas will carry.
type ResponseCreated struct {
	ResponseID string
}

// ResponseDone marks the end of a response. Status is completed, cancelled,
// incomplete, or failed.
type ResponseDone struct {
	ResponseID string
	Status     string
}

// InputCommitted reports that the upstream committed the input audio buffer,
// either on request or because server VAD detected end of speech.
type InputCommitted struct {
	ItemID string
}

// ServiceError is an error event emitted by the upstream service.
type ServiceError struct {
	Type    string
	Code    string
	Message string
	Param   string
}

const (
	TypeError               = "error"
	TypeTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated     = "response.created"
	TypeResponseDone        = "response.done"
	TypeInputCommitted      = "input_audio_buffer.committed"
	TypeTextDelta           = "response.text.delta"
	TypeAudioTranscript     = "response.audio_transcript.delta"
	TypeAudioDelta          = "response.audio.delta"

	typeOutputTextDelta       = "response.output_text.delta"
	typeOutputAudioTranscript = "response.output_audio_transcript.delta"
	typeOutputAudioDelta      = "response.output_audio.delta"
)

func (TranscriptCompleted) EventType() string { return TypeTranscriptCompleted }
func (TextDelta) EventType() string           { return TypeTextDelta }
func (AudioDelta) EventType() string          { return TypeAudioDelta }
func (ResponseCreated) EventType() string     { return TypeResponseCreated }
func (ResponseDone) EventType() string        { return TypeResponseDone }
func (InputCommitted) EventType() string      { return TypeInputCommitted }
func (ServiceError) EventType() string        { return TypeError }

func (e ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("upstream %s: %s", e.Type, e.Message)
}

type wireEnvelope struct {
	Type string `json:"type"`
}

type wireError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

type wireTranscript struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type wireDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type wireResponse struct {
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

type wireCommitted struct {
	ItemID string `json:"item_id"`
}

var errMissingType = errors.New("missing type")

// decodeEvent decodes one upstream frame. Unknown event types yield (nil, nil).
func decodeEvent(data []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedEventError{Err: err}
	}
	if env.Type == "" {
		return nil, &MalformedEventError{Err: errMissingType}
	}

	switch env.Type {
	case TypeError:
		var w wireError
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		return ServiceError{
			Type:    w.Error.Type,
			Code:    w.Error.Code,
			Message: w.Error.Message,
			Param:   w.Error.Param,
		}, nil

	case TypeTranscriptCompleted:
		var w wireTranscript
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		return TranscriptCompleted{ItemID: w.ItemID, Transcript: w.Transcript}, nil

	case TypeTextDelta, TypeAudioTranscript, typeOutputTextDelta, typeOutputAudioTranscript:
		var w wireDelta
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		return TextDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}, nil

	case TypeAudioDelta, typeOutputAudioDelta:
		var w wireDelta
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		pcm, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: fmt.Errorf("decode audio: %w", err)}
		}
		return AudioDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Audio: pcm}, nil

	case TypeResponseCreated, TypeResponseDone:
		var w wireResponse
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		if env.Type == TypeResponseCreated {
			return ResponseCreated{ResponseID: w.Response.ID}, nil
		}
		return ResponseDone{ResponseID: w.Response.ID, Status: w.Response.Status}, nil

	case TypeInputCommitted:
		var w wireCommitted
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &MalformedEventError{Type: env.Type, Err: err}
		}
		return InputCommitted{ItemID: w.ItemID}, nil

	default:
		return nil, nil
	}
}
