// Package oneshot implements the request/response voice primitives
// (transcribe, chat, speak) without any turn state.
package oneshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config selects models and voice for one-shot calls.
type Config struct {
	TranscriptionModel string
	ChatModel          string
	SpeechModel        string
	SpeechVoice        string
	SpeechFormat       string
	Instructions       string
}

// DefaultConfig returns whisper-1, gpt-4o and tts-1 with the nova voice.
func DefaultConfig() Config {
	return Config{
		TranscriptionModel: openai.AudioModelWhisper1,
		ChatModel:          string(openai.ChatModelGPT4o),
		SpeechModel:        openai.SpeechModelTTS1,
		SpeechVoice:        "nova",
		SpeechFormat:       string(openai.AudioSpeechNewParamsResponseFormatMP3),
	}
}

// ErrEmptyReply is returned when the chat model produces no choices.
var ErrEmptyReply = errors.New("oneshot: empty chat reply")

// Speech is synthesized audio.
type Speech struct {
	ContentType string
	Audio       []byte
}

// Result is the outcome of the full transcribe, chat, speak pipeline.
type Result struct {
	Transcript string
	Reply      string
	Speech     *Speech
}

// Client performs one-shot calls against the OpenAI API.
type Client struct {
	api    openai.Client
	cfg    Config
	logger *slog.Logger
}

// New builds a Client. Extra request options (base URL, HTTP client, retries)
// are applied after the credential.
func New(credential string, cfg Config, log *slog.Logger, opts ...option.RequestOption) *Client {
	def := DefaultConfig()
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = def.TranscriptionModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = def.SpeechModel
	}
	if cfg.SpeechVoice == "" {
		cfg.SpeechVoice = def.SpeechVoice
	}
	if cfg.SpeechFormat == "" {
		cfg.SpeechFormat = def.SpeechFormat
	}
	if log == nil {
		log = logger
	}
	all := append([]option.RequestOption{option.WithAPIKey(credential)}, opts...)
	return &Client{
		api:    openai.NewClient(all...),
		cfg:    cfg,
		logger: log,
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Transcribe converts an audio file (wav, mp3, webm, ...) to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "oneshot.transcribe", trace.WithAttributes(
		attribute.String("oneshot.model", c.cfg.TranscriptionModel),
		attribute.Int("oneshot.audio_bytes", len(audio)),
	))
	defer span.End()

	if len(audio) == 0 {
		return "", endSpan(span, errors.New("transcribe: empty audio"))
	}
	if filename == "" {
		filename = "audio.wav"
	}
	if contentType == "" {
		contentType = "audio/wav"
	}

	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, contentType),
		Model: openai.AudioModel(c.cfg.TranscriptionModel),
	})
	if err != nil {
		return "", endSpan(span, fmt.Errorf("transcribe: %w", err))
	}
	return strings.TrimSpace(resp.Text), nil
}

// Chat sends one user message and returns the model's reply.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "oneshot.chat", trace.WithAttributes(
		attribute.String("oneshot.model", c.cfg.ChatModel),
	))
	defer span.End()

	var messages []openai.ChatCompletionMessageParamUnion
	if c.cfg.Instructions != "" {
		messages = append(messages, openai.SystemMessage(c.cfg.Instructions))
	}
	messages = append(messages, openai.UserMessage(text))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.cfg.ChatModel),
	})
	if err != nil {
		return "", endSpan(span, fmt.Errorf("chat: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", endSpan(span, ErrEmptyReply)
	}
	return resp.Choices[0].Message.Content, nil
}

// Speak synthesizes text to audio in the configured format.
func (c *Client) Speak(ctx context.Context, text string) (*Speech, error) {
	ctx, span := tracer.Start(ctx, "oneshot.speak", trace.WithAttributes(
		attribute.String("oneshot.model", c.cfg.SpeechModel),
		attribute.String("oneshot.voice", c.cfg.SpeechVoice),
	))
	defer span.End()

	format := openai.AudioSpeechNewParamsResponseFormat(c.cfg.SpeechFormat)
	resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.SpeechVoice),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("speak: %w", err))
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("speak: read audio: %w", err))
	}
	ct := ContentTypeForFormat(c.cfg.SpeechFormat)
	if h := resp.Header.Get("Content-Type"); strings.HasPrefix(h, "audio/") {
		ct = h
	}
	span.SetAttributes(attribute.Int("oneshot.audio_bytes", len(audio)))
	return &Speech{ContentType: ct, Audio: audio}, nil
}

// Process runs transcribe, chat and speak in sequence.
func (c *Client) Process(ctx context.Context, audio []byte, filename, contentType string) (*Result, error) {
	transcript, err := c.Transcribe(ctx, audio, filename, contentType)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "transcribed", "chars", len(transcript))

	reply, err := c.Chat(ctx, transcript)
	if err != nil {
		return nil, err
	}
	speech, err := c.Speak(ctx, reply)
	if err != nil {
		return nil, err
	}
	return &Result{Transcript: transcript, Reply: reply, Speech: speech}, nil
}

// ContentTypeForFormat maps a speech response format to its MIME type.
func ContentTypeForFormat(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/opus"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
