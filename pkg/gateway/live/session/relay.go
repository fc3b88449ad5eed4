// Package session runs one relay session: a browser websocket bridged to one
// upstream realtime connection for the lifetime of the client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-relay/pkg/core/voice/audio"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
	"github.com/vango-go/vai-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-relay/pkg/gateway/live/turn"
)

type Config struct {
	MaxJSONMessageBytes    int64
	MaxAudioChunkBytes     int
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	OutboundQueueSize      int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	MaxSessionDuration     time.Duration
	TurnDetection          realtime.TurnDetectionMode
	AudioFormat            audio.Format
}

// UpstreamLink is the upstream side of a session; *realtime.Link satisfies it.
type UpstreamLink interface {
	turn.Upstream
	Receive(ctx context.Context) (realtime.Event, error)
	Close() error
}

// Observer extends turn.Observer with session-level signals.
type Observer interface {
	turn.Observer
	StaleFrameDropped()
	MalformedUpstreamEvent()
}

type Dependencies struct {
	Conn      *websocket.Conn
	Upstream  UpstreamLink
	Logger    *slog.Logger
	Observer  Observer
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

// RelaySession owns one ClientLink, one UpstreamLink and one turn.Controller.
type RelaySession struct {
	client   *ClientLink
	upstream UpstreamLink
	ctrl     *turn.Controller
	logger   *slog.Logger
	observer Observer
	cfg      Config

	sessionID string
	requestID string

	ctx     context.Context
	cancel  context.CancelFunc
	expired atomic.Bool
}

func New(deps Dependencies) (*RelaySession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream link is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.TurnDetection == "" {
		deps.Config.TurnDetection = realtime.TurnDetectionServerVAD
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	logger := deps.Logger.With("session_id", deps.SessionID, "request_id", deps.RequestID)
	client := newClientLink(deps.Conn, deps.Config, deps.Now)

	ctrl, err := turn.New(deps.Upstream, client, turn.Config{
		Mode:     deps.Config.TurnDetection,
		Format:   deps.Config.AudioFormat,
		Logger:   logger,
		Observer: deps.Observer,
		Now:      deps.Now,
	})
	if err != nil {
		return nil, err
	}
	client.isSuperseded = ctrl.Superseded
	client.onDrop = deps.Observer.StaleFrameDropped

	ctx, cancel := context.WithCancel(context.Background())
	return &RelaySession{
		client:    client,
		upstream:  deps.Upstream,
		ctrl:      ctrl,
		logger:    logger,
		observer:  deps.Observer,
		cfg:       deps.Config,
		sessionID: deps.SessionID,
		requestID: deps.RequestID,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Run relays until either side terminates, parent is done, or the session
// cancels. Both links are closed before Run returns. The error is non-nil
// only for failures the host should treat as abnormal.
func (s *RelaySession) Run(parent context.Context) (Status, error) {
	defer s.cancel()
	stop := context.AfterFunc(parent, s.cancel)
	defer stop()

	if s.cfg.MaxSessionDuration > 0 {
		timer := time.AfterFunc(s.cfg.MaxSessionDuration, func() {
			s.expired.Store(true)
			_ = s.client.SendPriority(protocol.NewError(protocol.CodeSessionExpired, "maximum session duration reached"))
			s.cancel()
		})
		defer timer.Stop()
	}

	s.client.startReader()

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.client.runWriter(ctx) })
	g.Go(func() error { return s.clientLoop(ctx) })
	g.Go(func() error { return s.upstreamLoop(ctx) })
	err := g.Wait()

	_ = s.client.Close()
	_ = s.upstream.Close()

	status := statusFor(err)
	s.logger.Info("relay session finished",
		"status", status,
		"expired", s.expired.Load(),
		"generation", s.ctrl.Generation(),
		"dropped_audio_chunks", s.ctrl.DroppedChunks(),
	)

	switch {
	case status == StatusUpstreamFailed:
		return status, err
	case status == StatusClosed && err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return status, err
	default:
		return status, nil
	}
}

func (s *RelaySession) clientLoop(ctx context.Context) error {
	for {
		ev, err := s.client.Receive(ctx)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.logger.Debug("rejected client frame", "code", de.Code, "error", de)
				s.observer.ClientError(de.Code)
				if err := s.client.Send(ctx, 0, protocol.NewError(de.Code, de.Error())); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, ErrClientDisconnected) {
				_ = s.ctrl.Handle(ctx, turn.Disconnect{})
			}
			return err
		}
		if err := s.ctrl.Handle(ctx, ev); err != nil {
			return s.fail(err)
		}
	}
}

func (s *RelaySession) upstreamLoop(ctx context.Context) error {
	for {
		ev, err := s.upstream.Receive(ctx)
		if err != nil {
			var me *realtime.MalformedEventError
			if errors.As(err, &me) {
				s.logger.Warn("malformed upstream event", "error", err)
				s.observer.MalformedUpstreamEvent()
				continue
			}
			return s.fail(err)
		}
		if err := s.ctrl.Dispatch(ctx, ev); err != nil {
			return s.fail(err)
		}
	}
}

// fail tells the client the upstream is gone before the session unwinds.
func (s *RelaySession) fail(err error) error {
	if errors.Is(err, realtime.ErrConnectionClosed) {
		s.observer.ClientError(protocol.CodeUpstreamClosed)
		_ = s.client.SendPriority(protocol.NewError(protocol.CodeUpstreamClosed, "upstream connection closed"))
	}
	return err
}

// Cancel ends the session; Run returns StatusClosed.
func (s *RelaySession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning queues a warning ahead of normal traffic.
func (s *RelaySession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.client.SendPriority(protocol.NewWarning(code, message))
}

// State exposes the controller state for diagnostics.
func (s *RelaySession) State() turn.State {
	return s.ctrl.State()
}

type nopObserver struct{}

func (nopObserver) TurnStarted(string)                         {}
func (nopObserver) TurnFinished(string, string, time.Duration) {}
func (nopObserver) AudioRelayed(string, int)                   {}
func (nopObserver) EventDropped(string)                        {}
func (nopObserver) ClientError(string)                         {}
func (nopObserver) StaleFrameDropped()                         {}
func (nopObserver) MalformedUpstreamEvent()                    {}
