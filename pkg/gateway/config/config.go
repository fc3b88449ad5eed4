// Package config loads the relay host configuration from the environment.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// Addr overrides Port when set.
	Addr string `env:"VAI_RELAY_ADDR"`
	Port int    `env:"PORT" envDefault:"8000"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// CORS; "*" allows every origin.
	CORSAllowedOrigins []string `env:"VAI_RELAY_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// Realtime upstream session.
	RealtimeURL             string        `env:"VAI_RELAY_REALTIME_URL" envDefault:"wss://api.openai.com/v1/realtime"`
	RealtimeModel           string        `env:"VAI_RELAY_REALTIME_MODEL" envDefault:"gpt-4o-realtime-preview"`
	Voice                   string        `env:"VAI_RELAY_VOICE" envDefault:"alloy"`
	Instructions            string        `env:"VAI_RELAY_INSTRUCTIONS"`
	Modalities              []string      `env:"VAI_RELAY_MODALITIES" envDefault:"text,audio" envSeparator:","`
	InputAudioFormat        string        `env:"VAI_RELAY_INPUT_AUDIO_FORMAT" envDefault:"pcm16"`
	OutputAudioFormat       string        `env:"VAI_RELAY_OUTPUT_AUDIO_FORMAT" envDefault:"pcm16"`
	InputTranscriptionModel string        `env:"VAI_RELAY_INPUT_TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	TurnDetection           string        `env:"VAI_RELAY_TURN_DETECTION" envDefault:"server_vad"`
	VADThreshold            float64       `env:"VAI_RELAY_VAD_THRESHOLD" envDefault:"0.5"`
	VADPrefixPadding        time.Duration `env:"VAI_RELAY_VAD_PREFIX_PADDING" envDefault:"300ms"`
	VADSilenceDuration      time.Duration `env:"VAI_RELAY_VAD_SILENCE_DURATION" envDefault:"500ms"`
	SampleRateHz            int           `env:"VAI_RELAY_SAMPLE_RATE_HZ" envDefault:"24000"`

	// One-shot endpoints.
	TranscriptionModel  string        `env:"VAI_RELAY_TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	ChatModel           string        `env:"VAI_RELAY_CHAT_MODEL" envDefault:"gpt-4o"`
	SpeechModel         string        `env:"VAI_RELAY_SPEECH_MODEL" envDefault:"tts-1"`
	SpeechVoice         string        `env:"VAI_RELAY_SPEECH_VOICE" envDefault:"nova"`
	SpeechFormat        string        `env:"VAI_RELAY_SPEECH_FORMAT" envDefault:"mp3"`
	MaxOneShotBodyBytes int64         `env:"VAI_RELAY_MAX_ONESHOT_BODY_BYTES" envDefault:"26214400"`
	OneShotTimeout      time.Duration `env:"VAI_RELAY_ONESHOT_TIMEOUT" envDefault:"60s"`

	// Relay session limits.
	MaxJSONMessageBytes    int64         `env:"VAI_RELAY_MAX_JSON_MESSAGE_BYTES" envDefault:"262144"`
	MaxAudioChunkBytes     int           `env:"VAI_RELAY_MAX_AUDIO_CHUNK_BYTES" envDefault:"131072"`
	MaxAudioFPS            int           `env:"VAI_RELAY_MAX_AUDIO_FPS" envDefault:"120"`
	MaxAudioBytesPerSecond int64         `env:"VAI_RELAY_MAX_AUDIO_BPS" envDefault:"262144"`
	InboundBurstSeconds    int           `env:"VAI_RELAY_INBOUND_BURST_SECONDS" envDefault:"2"`
	OutboundQueueSize      int           `env:"VAI_RELAY_OUTBOUND_QUEUE_SIZE" envDefault:"256"`
	WSPingInterval         time.Duration `env:"VAI_RELAY_WS_PING_INTERVAL" envDefault:"20s"`
	WSWriteTimeout         time.Duration `env:"VAI_RELAY_WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSReadTimeout          time.Duration `env:"VAI_RELAY_WS_READ_TIMEOUT" envDefault:"0s"`
	MaxSessionDuration     time.Duration `env:"VAI_RELAY_MAX_SESSION_DURATION" envDefault:"30m"`

	// Upstream transport.
	UpstreamConnectTimeout        time.Duration `env:"VAI_RELAY_UPSTREAM_CONNECT_TIMEOUT" envDefault:"10s"`
	UpstreamWriteTimeout          time.Duration `env:"VAI_RELAY_UPSTREAM_WRITE_TIMEOUT" envDefault:"5s"`
	UpstreamResponseHeaderTimeout time.Duration `env:"VAI_RELAY_UPSTREAM_RESPONSE_HEADER_TIMEOUT" envDefault:"30s"`

	// HTTP server.
	ReadHeaderTimeout   time.Duration `env:"VAI_RELAY_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ReadTimeout         time.Duration `env:"VAI_RELAY_READ_TIMEOUT" envDefault:"60s"`
	ShutdownGracePeriod time.Duration `env:"VAI_RELAY_SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`

	// Observability.
	LogLevel         string    `env:"VAI_RELAY_LOG_LEVEL" envDefault:"info"`
	LogFormat        LogFormat `env:"VAI_RELAY_LOG_FORMAT" envDefault:"text"`
	MetricsNamespace string    `env:"VAI_RELAY_METRICS_NAMESPACE" envDefault:"vai_relay"`
}

func LoadFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.CORSAllowedOrigins = trimAll(c.CORSAllowedOrigins)
	c.Modalities = trimAll(c.Modalities)
	c.TurnDetection = strings.ToLower(strings.TrimSpace(c.TurnDetection))
	c.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(string(c.LogFormat))))
}

// ListenAddr is Addr when set, else ":PORT".
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return net.JoinHostPort("", fmt.Sprint(c.Port))
}

// AllowsAnyOrigin reports whether CORS and websocket origin checks are open.
func (c Config) AllowsAnyOrigin() bool {
	for _, o := range c.CORSAllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if c.Addr == "" && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.RealtimeURL) == "" {
		return fmt.Errorf("VAI_RELAY_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(c.RealtimeModel) == "" {
		return fmt.Errorf("VAI_RELAY_REALTIME_MODEL must not be empty")
	}
	if len(c.Modalities) == 0 {
		return fmt.Errorf("VAI_RELAY_MODALITIES must not be empty")
	}
	switch c.TurnDetection {
	case "server_vad", "client_commit", "manual", "none":
	default:
		return fmt.Errorf("VAI_RELAY_TURN_DETECTION must be one of server_vad|client_commit")
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("VAI_RELAY_VAD_THRESHOLD must be between 0 and 1")
	}
	if c.VADPrefixPadding < 0 {
		return fmt.Errorf("VAI_RELAY_VAD_PREFIX_PADDING must be >= 0")
	}
	if c.VADSilenceDuration <= 0 {
		return fmt.Errorf("VAI_RELAY_VAD_SILENCE_DURATION must be > 0")
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("VAI_RELAY_SAMPLE_RATE_HZ must be > 0")
	}
	if c.MaxOneShotBodyBytes <= 0 {
		return fmt.Errorf("VAI_RELAY_MAX_ONESHOT_BODY_BYTES must be > 0")
	}
	if c.OneShotTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_ONESHOT_TIMEOUT must be > 0")
	}
	if c.MaxJSONMessageBytes <= 0 {
		return fmt.Errorf("VAI_RELAY_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if c.MaxAudioChunkBytes <= 0 {
		return fmt.Errorf("VAI_RELAY_MAX_AUDIO_CHUNK_BYTES must be > 0")
	}
	if c.MaxAudioFPS < 0 {
		return fmt.Errorf("VAI_RELAY_MAX_AUDIO_FPS must be >= 0")
	}
	if c.MaxAudioBytesPerSecond < 0 {
		return fmt.Errorf("VAI_RELAY_MAX_AUDIO_BPS must be >= 0")
	}
	if c.InboundBurstSeconds < 0 {
		return fmt.Errorf("VAI_RELAY_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (c.MaxAudioFPS > 0 || c.MaxAudioBytesPerSecond > 0) && c.InboundBurstSeconds < 1 {
		return fmt.Errorf("VAI_RELAY_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("VAI_RELAY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("VAI_RELAY_WS_PING_INTERVAL must be > 0")
	}
	if c.WSWriteTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSReadTimeout < 0 {
		return fmt.Errorf("VAI_RELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if c.WSReadTimeout > 0 && c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("VAI_RELAY_WS_READ_TIMEOUT must exceed VAI_RELAY_WS_PING_INTERVAL")
	}
	if c.MaxSessionDuration < 0 {
		return fmt.Errorf("VAI_RELAY_MAX_SESSION_DURATION must be >= 0")
	}
	if c.UpstreamConnectTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if c.UpstreamWriteTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_UPSTREAM_WRITE_TIMEOUT must be > 0")
	}
	if c.UpstreamResponseHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_UPSTREAM_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("VAI_RELAY_READ_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_RELAY_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("VAI_RELAY_LOG_FORMAT must be one of text|json")
	}
	if strings.TrimSpace(c.MetricsNamespace) == "" {
		return fmt.Errorf("VAI_RELAY_METRICS_NAMESPACE must not be empty")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
