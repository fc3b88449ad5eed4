package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 16 << 20

	// maxAppendBytes bounds the raw audio carried by one append event.
	maxAppendBytes = 128 * 1024
)

// Options configures the transport to the upstream realtime service.
type Options struct {
	URL              string
	Model            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Logger           *slog.Logger

	// Dialer overrides the websocket dialer, e.g. to set a proxy.
	Dialer *websocket.Dialer
}

type received struct {
	ev  Event
	err error
}

// Link is a connected upstream realtime session. Receive may be called from
// one goroutine while sends happen from another; sends are serialized.
type Link struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
	closing chan struct{}

	incoming chan received
	readErr  error // set before incoming is closed
}

// Connect dials the upstream, authenticates with credential, and sends the
// initial session configuration. Any failure is a *ConnectionError.
func Connect(ctx context.Context, credential string, opts Options, session SessionConfig) (*Link, error) {
	ctx, span := tracer.Start(ctx, "realtime.connect", trace.WithAttributes(
		attribute.String("realtime.model", opts.Model),
		attribute.String("realtime.turn_detection", string(session.TurnDetection.Mode)),
	))
	defer span.End()

	link, err := connect(ctx, credential, opts, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return nil, err
	}
	return link, nil
}

func connect(ctx context.Context, credential string, opts Options, session SessionConfig) (*Link, error) {
	if credential == "" {
		return nil, &ConnectionError{Err: errors.New("missing credential")}
	}
	if err := session.Validate(); err != nil {
		return nil, &ConnectionError{Err: err}
	}

	rawURL := opts.URL
	if rawURL == "" {
		rawURL = DefaultURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("parse websocket URL: %w", err)}
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := *websocket.DefaultDialer
	if opts.Dialer != nil {
		dialer = *opts.Dialer
	}
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	} else if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = defaultHandshakeTimeout
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		cerr := &ConnectionError{Err: err}
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			cerr.StatusCode = resp.StatusCode
			cerr.Body = string(body)
		}
		return nil, cerr
	}

	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	l := &Link{
		conn:         conn,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
		closing:      make(chan struct{}),
		incoming:     make(chan received, 64),
	}
	if l.logger == nil {
		l.logger = logger
	}
	if l.writeTimeout <= 0 {
		l.writeTimeout = defaultWriteTimeout
	}

	if err := l.writeJSON(session.updateEvent()); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Err: fmt.Errorf("send session.update: %w", err)}
	}

	go l.readLoop()
	return l, nil
}

func (l *Link) readLoop() {
	defer close(l.incoming)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.readErr = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			return
		}
		ev, err := decodeEvent(data)
		if ev == nil && err == nil {
			l.logger.Debug("skipping upstream event", "type", peekType(data))
			continue
		}
		select {
		case l.incoming <- received{ev: ev, err: err}:
		case <-l.closing:
			l.readErr = ErrConnectionClosed
			return
		}
	}
}

// Receive blocks until the next upstream event, ctx is done, or the link
// ends. A *MalformedEventError is recoverable; an error wrapping
// ErrConnectionClosed is terminal.
func (l *Link) Receive(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-l.incoming:
		if !ok {
			if l.readErr != nil {
				return nil, l.readErr
			}
			return nil, ErrConnectionClosed
		}
		return r.ev, r.err
	}
}

type appendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type typedEvent struct {
	Type string `json:"type"`
}

type itemCreateEvent struct {
	Type string   `json:"type"`
	Item itemBody `json:"item"`
}

type itemBody struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendAudio forwards PCM to the upstream input buffer. No acknowledgement is
// awaited.
func (l *Link) SendAudio(pcm []byte) error {
	for len(pcm) > 0 {
		n := min(len(pcm), maxAppendBytes)
		if err := l.writeJSON(appendEvent{
			Type:  "input_audio_buffer.append",
			Audio: base64.StdEncoding.EncodeToString(pcm[:n]),
		}); err != nil {
			return err
		}
		pcm = pcm[n:]
	}
	return nil
}

// CommitTurn ends the current input and requests a response.
func (l *Link) CommitTurn() error {
	if err := l.writeJSON(typedEvent{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return l.writeJSON(typedEvent{Type: "response.create"})
}

// SendText adds a user text message to the conversation and requests a response.
func (l *Link) SendText(text string) error {
	if err := l.writeJSON(itemCreateEvent{
		Type: "conversation.item.create",
		Item: itemBody{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return l.writeJSON(typedEvent{Type: "response.create"})
}

// CancelResponse asks the upstream to stop the in-flight response.
func (l *Link) CancelResponse() error {
	return l.writeJSON(typedEvent{Type: "response.cancel"})
}

// ClearInput discards audio already appended to the upstream input buffer.
func (l *Link) ClearInput() error {
	return l.writeJSON(typedEvent{Type: "input_audio_buffer.clear"})
}

func (l *Link) writeJSON(v any) error {
	if l.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// Close releases the transport exactly once. It is safe to call repeatedly
// and after an error.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	close(l.closing)

	l.writeMu.Lock()
	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	l.writeMu.Unlock()

	return l.conn.Close()
}

func peekType(data []byte) string {
	var env wireEnvelope
	_ = json.Unmarshal(data, &env)
	return env.Type
}
