package realtime

import (
	"fmt"
	"strings"
)

// TurnDetectionMode selects who decides that a user turn has ended.
type TurnDetectionMode string

const (
	// TurnDetectionServerVAD lets the upstream detect end of speech from silence.
	TurnDetectionServerVAD TurnDetectionMode = "server_vad"
	// TurnDetectionClientCommit requires the relay to commit each turn explicitly.
	TurnDetectionClientCommit TurnDetectionMode = "client_commit"
)

// ParseTurnDetectionMode parses a configured mode name.
func ParseTurnDetectionMode(s string) (TurnDetectionMode, error) {
	switch TurnDetectionMode(strings.ToLower(strings.TrimSpace(s))) {
	case TurnDetectionServerVAD:
		return TurnDetectionServerVAD, nil
	case TurnDetectionClientCommit, "manual", "none":
		return TurnDetectionClientCommit, nil
	default:
		return "", fmt.Errorf("unknown turn detection mode %q", s)
	}
}

// TurnDetection configures end-of-turn policy.
type TurnDetection struct {
	Mode              TurnDetectionMode
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// SessionConfig is sent once per connection in the initial session.update.
type SessionConfig struct {
	Modalities         []string
	Voice              string
	Instructions       string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	TurnDetection      TurnDetection
}

// DefaultSessionConfig mirrors the browser client's expectations: text and
// audio out, pcm16 both ways, server-side silence detection.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:         []string{"text", "audio"},
		Voice:              "alloy",
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		TurnDetection: TurnDetection{
			Mode:              TurnDetectionServerVAD,
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		},
	}
}

// Validate checks the config before it is sent upstream.
func (c SessionConfig) Validate() error {
	if len(c.Modalities) == 0 {
		return fmt.Errorf("realtime: at least one modality is required")
	}
	for _, m := range c.Modalities {
		if m != "text" && m != "audio" {
			return fmt.Errorf("realtime: unsupported modality %q", m)
		}
	}
	switch c.TurnDetection.Mode {
	case TurnDetectionServerVAD:
		if c.TurnDetection.Threshold < 0 || c.TurnDetection.Threshold > 1 {
			return fmt.Errorf("realtime: vad threshold must be within [0,1]")
		}
		if c.TurnDetection.PrefixPaddingMS < 0 || c.TurnDetection.SilenceDurationMS < 0 {
			return fmt.Errorf("realtime: vad durations must be >= 0")
		}
	case TurnDetectionClientCommit:
	default:
		return fmt.Errorf("realtime: unknown turn detection mode %q", c.TurnDetection.Mode)
	}
	return nil
}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Modalities              []string                 `json:"modalities"`
	Voice                   string                   `json:"voice,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *inputAudioTranscription `json:"input_audio_transcription,omitempty"`
	// TurnDetection is always present; null disables server VAD.
	TurnDetection *turnDetectionBody `json:"turn_detection"`
}

type inputAudioTranscription struct {
	Model string `json:"model"`
}

type turnDetectionBody struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

func (c SessionConfig) updateEvent() sessionUpdate {
	body := sessionBody{
		Modalities:        c.Modalities,
		Voice:             c.Voice,
		Instructions:      c.Instructions,
		InputAudioFormat:  c.InputAudioFormat,
		OutputAudioFormat: c.OutputAudioFormat,
	}
	if c.TranscriptionModel != "" {
		body.InputAudioTranscription = &inputAudioTranscription{Model: c.TranscriptionModel}
	}
	if c.TurnDetection.Mode == TurnDetectionServerVAD {
		body.TurnDetection = &turnDetectionBody{
			Type:              string(TurnDetectionServerVAD),
			Threshold:         c.TurnDetection.Threshold,
			PrefixPaddingMS:   c.TurnDetection.PrefixPaddingMS,
			SilenceDurationMS: c.TurnDetection.SilenceDurationMS,
		}
	}
	return sessionUpdate{Type: "session.update", Session: body}
}
