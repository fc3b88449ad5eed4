package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client-to-server message types.
const (
	TypeAudioData   = "audio_data"
	TypeAudioEnd    = "audio_end"
	TypeTextMessage = "text_message"
	TypeInterrupt   = "interrupt"
)

// Server-to-client message types.
const (
	TypeTranscript   = "transcript"
	TypeTextDelta    = "response.text.delta"
	TypeAudioDelta   = "response.audio.delta"
	TypeResponseDone = "response.done"
	TypeError        = "error"
	TypeWarning      = "warning"
)

// Error codes carried in ServerError.Error.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeUnsupported         = "unsupported"
	CodeNoAudio             = "no_audio"
	CodeTurnInProgress      = "turn_in_progress"
	CodeRateLimited         = "rate_limited"
	CodeAudioTooLarge       = "audio_too_large"
	CodeProtocolViolation   = "protocol_violation"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamClosed      = "upstream_closed"
	CodeUpstreamError       = "upstream_error"
	CodeDraining            = "draining"
	CodeSessionExpired      = "session_expired"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: CodeUnsupported, Message: message, Param: param}
}

// NewDecodeError builds a DecodeError for checks made outside the codec,
// such as size and rate limits.
func NewDecodeError(code, message, param string) *DecodeError {
	return &DecodeError{Code: code, Message: message, Param: param}
}

// ClientAudioData carries one base64 PCM16 chunk. PCM holds the decoded bytes.
type ClientAudioData struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
	PCM   []byte `json:"-"`
}

type ClientAudioEnd struct {
	Type string `json:"type"`
}

type ClientTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientInterrupt struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one client text frame into one of the Client*
// message structs. Failures are always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeAudioData:
		var msg ClientAudioData
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_data", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio_data.audio is required", "audio")
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, badRequest("audio_data.audio must be base64", "audio")
		}
		if len(pcm)%2 != 0 {
			return nil, badRequest("audio_data.audio must be 16-bit PCM", "audio")
		}
		msg.Type = typ
		msg.PCM = pcm
		return msg, nil
	case TypeAudioEnd:
		return ClientAudioEnd{Type: typ}, nil
	case TypeTextMessage:
		var msg ClientTextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_message", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_message.text is required", "text")
		}
		return msg, nil
	case TypeInterrupt:
		return ClientInterrupt{Type: typ}, nil
	case "hello", "audio_frame", "control":
		return nil, unsupported("message type is not supported by the relay", "type")
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerTextDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// ServerAudioDelta carries base64 audio from the upstream response.
type ServerAudioDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type ServerResponseDone struct {
	Type string `json:"type"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ServerError struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewTranscript(text string) ServerTranscript {
	return ServerTranscript{Type: TypeTranscript, Text: text}
}

func NewTextDelta(delta string) ServerTextDelta {
	return ServerTextDelta{Type: TypeTextDelta, Delta: delta}
}

func NewAudioDelta(pcm []byte) ServerAudioDelta {
	return ServerAudioDelta{Type: TypeAudioDelta, Delta: base64.StdEncoding.EncodeToString(pcm)}
}

func NewResponseDone() ServerResponseDone {
	return ServerResponseDone{Type: TypeResponseDone}
}

func NewError(code, message string) ServerError {
	return ServerError{Type: TypeError, Error: ErrorBody{Message: message, Code: code}}
}

func NewWarning(code, message string) ServerWarning {
	return ServerWarning{Type: TypeWarning, Code: code, Message: message}
}
