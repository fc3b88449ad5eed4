package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-relay/pkg/core"
	"github.com/vango-go/vai-relay/pkg/core/voice/audio"
	"github.com/vango-go/vai-relay/pkg/core/voice/oneshot"
	"github.com/vango-go/vai-relay/pkg/gateway/config"
	"github.com/vango-go/vai-relay/pkg/gateway/metrics"
)

// OneShotFactory builds a one-shot client per request.
type OneShotFactory interface {
	NewOneShot(ctx context.Context) (*oneshot.Client, error)
}

// OneShotHandler serves the request/response voice endpoints.
type OneShotHandler struct {
	Config  config.Config
	Clients OneShotFactory
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type textBody struct {
	Text string `json:"text"`
}

// Transcribe handles POST /v1/transcribe.
func (h OneShotHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "transcribe", func(ctx context.Context, c *oneshot.Client) error {
		in, err := h.readAudio(w, r)
		if err != nil {
			return err
		}
		text, err := c.Transcribe(ctx, in.data, in.filename, in.contentType)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, textBody{Text: text})
		return nil
	})
}

// Chat handles POST /v1/chat.
func (h OneShotHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "chat", func(ctx context.Context, c *oneshot.Client) error {
		text, err := h.readText(w, r)
		if err != nil {
			return err
		}
		reply, err := c.Chat(ctx, text)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, textBody{Text: reply})
		return nil
	})
}

// Speak handles POST /v1/speak.
func (h OneShotHandler) Speak(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "speak", func(ctx context.Context, c *oneshot.Client) error {
		text, err := h.readText(w, r)
		if err != nil {
			return err
		}
		speech, err := c.Speak(ctx, text)
		if err != nil {
			return err
		}
		writeAudio(w, speech)
		return nil
	})
}

// Process handles POST /process: transcribe, chat, then speak. The transcript
// and reply are returned percent-encoded in X-Transcript and X-Reply.
func (h OneShotHandler) Process(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "process", func(ctx context.Context, c *oneshot.Client) error {
		in, err := h.readAudio(w, r)
		if err != nil {
			return err
		}
		res, err := c.Process(ctx, in.data, in.filename, in.contentType)
		if err != nil {
			return err
		}
		w.Header().Set("X-Transcript", url.PathEscape(res.Transcript))
		w.Header().Set("X-Reply", url.PathEscape(res.Reply))
		writeAudio(w, res.Speech)
		return nil
	})
}

func (h OneShotHandler) serve(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, *oneshot.Client) error) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		writeCoreErrorJSON(w, reqID, methodNotAllowed(), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.Config.OneShotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.OneShotTimeout)
		defer cancel()
	}

	started := time.Now()
	err := h.run(ctx, fn)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		coreErr, status := coreErrorFrom(err, reqID)
		switch coreErr.Code {
		case "body_too_large":
			status = http.StatusRequestEntityTooLarge
		case "unsupported_media_type":
			status = http.StatusUnsupportedMediaType
		}
		if status >= http.StatusInternalServerError {
			h.logger().ErrorContext(ctx, "oneshot request failed", "op", op, "request_id", reqID, "error", err)
		}
		writeCoreErrorJSON(w, reqID, coreErr, status)
	}
	h.Metrics.OneShot(op, outcome, time.Since(started))
}

func (h OneShotHandler) run(ctx context.Context, fn func(context.Context, *oneshot.Client) error) error {
	if h.Clients == nil {
		return core.NewUpstreamError("upstream_unavailable", errors.New("no one-shot client configured"))
	}
	c, err := h.Clients.NewOneShot(ctx)
	if err != nil {
		return core.NewUpstreamError("upstream_unavailable", err)
	}
	return fn(ctx, c)
}

func (h OneShotHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type audioInput struct {
	data        []byte
	filename    string
	contentType string
}

// readAudio reads the request body as an audio file. Raw PCM bodies
// (audio/pcm, audio/L16) are wrapped in a WAV header; an optional "rate"
// media type parameter overrides the configured sample rate.
func (h OneShotHandler) readAudio(w http.ResponseWriter, r *http.Request) (audioInput, error) {
	body, err := h.readBody(w, r)
	if err != nil {
		return audioInput{}, err
	}
	if len(body) == 0 {
		return audioInput{}, core.NewInvalidRequestError("request body must contain audio")
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch strings.ToLower(mediaType) {
	case "audio/pcm", "audio/l16", "audio/x-pcm":
		format := audio.DefaultFormat
		if h.Config.SampleRateHz > 0 {
			format.SampleRate = h.Config.SampleRateHz
		}
		if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
			format.SampleRate = rate
		}
		return audioInput{data: audio.PCMToWAV(body, format), filename: "audio.wav", contentType: "audio/wav"}, nil
	case "audio/mpeg", "audio/mp3":
		return audioInput{data: body, filename: "audio.mp3", contentType: "audio/mpeg"}, nil
	case "audio/webm":
		return audioInput{data: body, filename: "audio.webm", contentType: "audio/webm"}, nil
	case "audio/ogg":
		return audioInput{data: body, filename: "audio.ogg", contentType: "audio/ogg"}, nil
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return audioInput{data: body, filename: "audio.m4a", contentType: "audio/mp4"}, nil
	case "audio/flac":
		return audioInput{data: body, filename: "audio.flac", contentType: "audio/flac"}, nil
	case "", "audio/wav", "audio/wave", "audio/x-wav", "application/octet-stream":
		return audioInput{data: body, filename: "audio.wav", contentType: "audio/wav"}, nil
	default:
		return audioInput{}, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "unsupported audio content type",
			Param:   "Content-Type",
			Code:    "unsupported_media_type",
		}
	}
}

func (h OneShotHandler) readText(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := h.readBody(w, r)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var req textBody
	if err := dec.Decode(&req); err != nil {
		return "", core.NewInvalidRequestError("request body must be a JSON object with a text field")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", core.NewInvalidRequestErrorWithParam("text must not be empty", "text")
	}
	return text, nil
}

func (h OneShotHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if h.Config.MaxOneShotBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxOneShotBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.Error{
				Type:    core.ErrInvalidRequest,
				Message: "request body too large",
				Code:    "body_too_large",
			}
		}
		return nil, core.NewInvalidRequestError("failed to read request body")
	}
	return body, nil
}

func writeAudio(w http.ResponseWriter, speech *oneshot.Speech) {
	ct := speech.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(speech.Audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(speech.Audio)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
