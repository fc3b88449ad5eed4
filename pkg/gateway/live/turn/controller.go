// Package turn sequences conversation turns between a client and the
// upstream realtime service.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/vai-relay/pkg/core/voice/audio"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
	"github.com/vango-go/vai-relay/pkg/gateway/live/protocol"
)

const maxSupersededGenerations = 256

// Upstream is the subset of the realtime link the controller drives.
type Upstream interface {
	SendAudio(pcm []byte) error
	CommitTurn() error
	SendText(text string) error
	CancelResponse() error
	ClearInput() error
}

// Client delivers server messages to the browser. Generation 0 marks a
// message that is not tied to a turn and is never discarded.
type Client interface {
	Send(ctx context.Context, generation uint64, msg any) error
}

// Config configures a Controller.
type Config struct {
	Mode     realtime.TurnDetectionMode
	Format   audio.Format
	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// Controller is the turn state machine. Every transition, whether triggered
// by the client reader or the upstream reader, runs under one lock.
type Controller struct {
	up       Upstream
	client   Client
	mode     realtime.TurnDetectionMode
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu            sync.Mutex
	state         State
	buf           *audio.FrameBuffer
	gen           uint64
	pending       []uint64
	responses     map[string]uint64
	pendingCommit bool
	streamed      int
	violationGen  uint64
	violated      bool
	// abandoned is the last generation dropped before its response was
	// created. A later response with no pending generation belongs to it.
	abandoned uint64

	// active mirrors the generation of the turn in a response state so an
	// Interrupt can supersede it without waiting for the transition lock.
	active atomic.Uint64

	turnKind  string
	turnStart time.Time
	turnSpan  trace.Span

	supMu      sync.Mutex
	superseded map[uint64]struct{}
	supOrder   []uint64
}

// New creates a Controller in the Idle state.
func New(up Upstream, client Client, cfg Config) (*Controller, error) {
	if up == nil {
		return nil, errors.New("turn: upstream is required")
	}
	if client == nil {
		return nil, errors.New("turn: client is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = realtime.TurnDetectionServerVAD
	case realtime.TurnDetectionServerVAD, realtime.TurnDetectionClientCommit:
	default:
		return nil, fmt.Errorf("turn: unknown turn detection mode %q", cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		up:         up,
		client:     client,
		mode:       cfg.Mode,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		now:        cfg.Now,
		state:      Idle,
		buf:        audio.NewFrameBuffer(cfg.Format),
		responses:  make(map[string]uint64),
		superseded: make(map[uint64]struct{}),
	}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the generation of the most recent turn.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// BufferedBytes returns the audio held for the current or next turn.
func (c *Controller) BufferedBytes() int {
	return c.buf.Len()
}

// DroppedChunks returns how many audio chunks raced a buffer flush.
func (c *Controller) DroppedChunks() int64 {
	return c.buf.Dropped()
}

// Superseded reports whether messages of generation gen must be discarded.
// It never blocks on the transition lock.
func (c *Controller) Superseded(gen uint64) bool {
	if gen == 0 {
		return false
	}
	c.supMu.Lock()
	defer c.supMu.Unlock()
	_, ok := c.superseded[gen]
	return ok
}

func (c *Controller) supersede(gen uint64) {
	if gen == 0 {
		return
	}
	c.supMu.Lock()
	defer c.supMu.Unlock()
	if _, ok := c.superseded[gen]; ok {
		return
	}
	c.superseded[gen] = struct{}{}
	c.supOrder = append(c.supOrder, gen)
	if len(c.supOrder) > maxSupersededGenerations {
		oldest := c.supOrder[0]
		c.supOrder = c.supOrder[1:]
		delete(c.superseded, oldest)
	}
}

// Handle applies one client event. A returned error is fatal for the
// session; recoverable conditions are reported to the client instead.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	if _, ok := ev.(Interrupt); ok {
		// A Dispatch holding the lock may be blocked on a full client queue;
		// superseding first lets the writer discard that turn's frames.
		c.supersede(c.active.Load())
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch ev := ev.(type) {
	case AudioData:
		err = c.onAudioData(ev.PCM)
	case AudioEnd:
		err = c.onAudioEnd(ctx)
	case TextMessage:
		err = c.onTextMessage(ctx, ev.Text)
	case Interrupt:
		err = c.onInterrupt()
	case Disconnect:
		c.onDisconnect()
	default:
		return fmt.Errorf("turn: unknown client event %T", ev)
	}
	return c.report(ctx, err)
}

func (c *Controller) onAudioData(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	switch c.state {
	case Idle, Listening:
		if c.mode == realtime.TurnDetectionServerVAD {
			if err := c.up.SendAudio(pcm); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			c.streamed += len(pcm)
			c.observer.AudioRelayed(DirectionInbound, len(pcm))
		} else {
			c.buf.Append(pcm)
		}
		c.setState(Listening)
	default:
		// One active turn upstream at a time: hold audio for the next turn.
		c.buf.Append(pcm)
	}
	return nil
}

func (c *Controller) onAudioEnd(ctx context.Context) error {
	switch c.state {
	case Idle:
		return ErrEmptyAudio
	case Listening:
		return c.commitLocked(ctx)
	default:
		if c.buf.IsEmpty() {
			c.logger.Debug("ignoring audio_end during response", "state", c.state, "generation", c.gen)
			return nil
		}
		c.pendingCommit = true
		return nil
	}
}

// commitLocked moves Listening through Committing to AwaitingResponse.
func (c *Controller) commitLocked(ctx context.Context) error {
	c.setState(Committing)
	pcm := c.buf.FlushRaw()

	if c.mode == realtime.TurnDetectionServerVAD {
		if len(pcm) > 0 {
			if err := c.up.SendAudio(pcm); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			c.streamed += len(pcm)
			c.observer.AudioRelayed(DirectionInbound, len(pcm))
		}
		if c.streamed == 0 {
			c.setState(Idle)
			return ErrEmptyAudio
		}
	} else {
		if len(pcm) == 0 {
			c.setState(Idle)
			return ErrEmptyAudio
		}
		if err := c.up.SendAudio(pcm); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		c.observer.AudioRelayed(DirectionInbound, len(pcm))
	}

	if err := c.up.CommitTurn(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	c.streamed = 0
	c.startTurn(ctx, KindAudio)
	return nil
}

func (c *Controller) onTextMessage(ctx context.Context, text string) error {
	if c.state.responding() {
		return ErrTurnInProgress
	}
	if err := c.up.SendText(text); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	c.startTurn(ctx, KindText)
	return nil
}

func (c *Controller) onInterrupt() error {
	switch c.state {
	case Idle:
		return nil
	case Listening:
		c.buf.Reset()
		if c.streamed > 0 {
			if err := c.up.ClearInput(); err != nil {
				return fmt.Errorf("clear input: %w", err)
			}
			c.streamed = 0
		}
		c.setState(Idle)
		return nil
	default:
		c.supersede(c.gen)
		c.buf.Reset()
		c.pendingCommit = false
		c.finishTurn(OutcomeInterrupted)
		c.setState(Idle)
		if err := c.up.CancelResponse(); err != nil {
			return fmt.Errorf("cancel response: %w", err)
		}
		return nil
	}
}

func (c *Controller) onDisconnect() {
	if c.state != Idle && c.state != Listening {
		c.supersede(c.gen)
		c.finishTurn(OutcomeDisconnected)
	}
	c.buf.Reset()
	c.pendingCommit = false
	c.setState(Idle)
}

// Dispatch applies one upstream event, forwarding translated messages to the
// client. A returned error is fatal for the session.
func (c *Controller) Dispatch(ctx context.Context, ev realtime.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch ev := ev.(type) {
	case realtime.TranscriptCompleted:
		err = c.client.Send(ctx, 0, protocol.NewTranscript(ev.Transcript))
	case realtime.ResponseCreated:
		c.onResponseCreated(ev.ResponseID)
	case realtime.TextDelta:
		err = c.onDelta(ctx, ev.ResponseID, "text_delta", protocol.NewTextDelta(ev.Delta), 0)
	case realtime.AudioDelta:
		err = c.onDelta(ctx, ev.ResponseID, "audio_delta", protocol.NewAudioDelta(ev.Audio), len(ev.Audio))
	case realtime.ResponseDone:
		err = c.onResponseDone(ctx, ev)
	case realtime.InputCommitted:
		c.onInputCommitted(ctx)
	case realtime.ServiceError:
		err = c.onServiceError(ctx, ev)
	default:
		c.logger.Debug("ignoring upstream event", "type", ev.EventType())
	}
	return c.report(ctx, err)
}

func (c *Controller) onResponseCreated(responseID string) {
	if len(c.pending) > 0 {
		gen := c.pending[0]
		c.pending = c.pending[1:]
		c.responses[responseID] = gen
		return
	}
	gen := c.gen
	if c.abandoned != 0 {
		gen = c.abandoned
	}
	c.logger.Debug("unsolicited upstream response", "response_id", responseID, "generation", gen)
	c.responses[responseID] = gen
}

func (c *Controller) generationFor(responseID string) uint64 {
	if gen, ok := c.responses[responseID]; ok {
		return gen
	}
	return c.gen
}

func (c *Controller) onDelta(ctx context.Context, responseID, kind string, msg any, audioBytes int) error {
	gen := c.generationFor(responseID)
	if c.Superseded(gen) {
		c.observer.EventDropped(kind)
		return nil
	}
	if !c.state.responding() {
		return &ProtocolViolation{State: c.state, Event: kind}
	}
	c.setState(StreamingResponse)
	if audioBytes > 0 {
		c.observer.AudioRelayed(DirectionOutbound, audioBytes)
	}
	return c.client.Send(ctx, gen, msg)
}

func (c *Controller) onResponseDone(ctx context.Context, ev realtime.ResponseDone) error {
	gen := c.generationFor(ev.ResponseID)
	delete(c.responses, ev.ResponseID)
	if c.Superseded(gen) {
		c.observer.EventDropped("response_done")
		return nil
	}
	if !c.state.responding() {
		return &ProtocolViolation{State: c.state, Event: "response_done"}
	}
	if err := c.client.Send(ctx, gen, protocol.NewResponseDone()); err != nil {
		return err
	}
	outcome := OutcomeCompleted
	if ev.Status != "" && ev.Status != "completed" {
		outcome = ev.Status
	}
	c.finishTurn(outcome)
	c.setState(Idle)

	if c.pendingCommit {
		c.pendingCommit = false
		c.setState(Listening)
		return c.commitLocked(ctx)
	}
	if !c.buf.IsEmpty() {
		if c.mode == realtime.TurnDetectionServerVAD {
			pcm := c.buf.FlushRaw()
			if err := c.up.SendAudio(pcm); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			c.streamed += len(pcm)
			c.observer.AudioRelayed(DirectionInbound, len(pcm))
		}
		c.setState(Listening)
	} else if c.streamed > 0 {
		c.setState(Listening)
	}
	return nil
}

// onInputCommitted starts a turn when server-side VAD ends the user's speech.
func (c *Controller) onInputCommitted(ctx context.Context) {
	if c.mode != realtime.TurnDetectionServerVAD {
		return
	}
	if c.state != Idle && c.state != Listening {
		return
	}
	c.streamed = 0
	c.startTurn(ctx, KindAudio)
}

func (c *Controller) onServiceError(ctx context.Context, ev realtime.ServiceError) error {
	if ev.Code == "response_cancel_not_active" {
		c.logger.Debug("cancel raced response completion", "generation", c.gen)
		return nil
	}
	c.logger.Warn("upstream error", "type", ev.Type, "code", ev.Code, "message", ev.Message, "state", c.state, "generation", c.gen)

	if c.state != Idle && c.state != Listening {
		c.supersede(c.gen)
		if c.dropPending(c.gen) {
			c.abandoned = c.gen
		}
		c.finishTurn(OutcomeError)
	}
	c.buf.Reset()
	c.streamed = 0
	c.pendingCommit = false
	c.setState(Idle)

	code := ev.Code
	if code == "" {
		code = protocol.CodeUpstreamError
	}
	c.observer.ClientError(code)
	return c.client.Send(ctx, 0, protocol.NewError(code, ev.Message))
}

// dropPending removes gen from the generations awaiting response.created.
func (c *Controller) dropPending(gen uint64) bool {
	for i, g := range c.pending {
		if g == gen {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Controller) startTurn(ctx context.Context, kind string) {
	c.gen++
	c.pending = append(c.pending, c.gen)
	c.violated = false
	c.turnKind = kind
	c.turnStart = c.now()
	_, c.turnSpan = tracer.Start(ctx, "relay.turn", trace.WithAttributes(
		attribute.String("turn.kind", kind),
		attribute.Int64("turn.generation", int64(c.gen)),
	))
	c.observer.TurnStarted(kind)
	c.active.Store(c.gen)
	c.setState(AwaitingResponse)
}

func (c *Controller) finishTurn(outcome string) {
	c.active.Store(0)
	if c.turnKind == "" {
		return
	}
	d := c.now().Sub(c.turnStart)
	c.observer.TurnFinished(c.turnKind, outcome, d)
	if c.turnSpan != nil {
		c.turnSpan.SetAttributes(attribute.String("turn.outcome", outcome))
		if outcome == OutcomeError {
			c.turnSpan.SetStatus(codes.Error, "upstream error")
		}
		c.turnSpan.End()
		c.turnSpan = nil
	}
	c.turnKind = ""
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("turn state", "from", c.state, "to", s, "generation", c.gen)
	c.state = s
}

// report turns recoverable errors into client error events. Fatal errors
// pass through unchanged.
func (c *Controller) report(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var code, message string
	var violation *ProtocolViolation
	switch {
	case errors.Is(err, ErrEmptyAudio):
		code, message = protocol.CodeNoAudio, "no audio received"
	case errors.Is(err, ErrTurnInProgress):
		code, message = protocol.CodeTurnInProgress, "wait for the current response to finish"
	case errors.As(err, &violation):
		c.logger.Warn("turn protocol violation", "error", err, "generation", c.gen)
		if c.violated && c.violationGen == c.gen {
			return nil
		}
		c.violated = true
		c.violationGen = c.gen
		code, message = protocol.CodeProtocolViolation, "unexpected upstream event"
	default:
		return err
	}
	c.observer.ClientError(code)
	return c.client.Send(ctx, 0, protocol.NewError(code, message))
}
