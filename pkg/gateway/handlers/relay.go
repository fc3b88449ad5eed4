package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-relay/pkg/core"
	"github.com/vango-go/vai-relay/pkg/core/voice/audio"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
	"github.com/vango-go/vai-relay/pkg/gateway/config"
	"github.com/vango-go/vai-relay/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-relay/pkg/gateway/live/session"
	"github.com/vango-go/vai-relay/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-relay/pkg/gateway/metrics"
	"github.com/vango-go/vai-relay/pkg/gateway/mw"
)

// UpstreamDialer opens one upstream realtime link per relay session.
type UpstreamDialer interface {
	Dial(ctx context.Context) (*realtime.Link, error)
}

// RelayHandler handles /ws and /v1/realtime websocket sessions.
type RelayHandler struct {
	Config       config.Config
	Upstream     UpstreamDialer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		writeCoreErrorJSON(w, reqID, methodNotAllowed(), http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		draining := core.NewOverloadedError("relay is draining")
		draining.Code = protocol.CodeDraining
		writeCoreErrorJSON(w, reqID, draining, 529)
		return
	}
	if !mw.OriginAllowed(h.Config, r.Header.Get("Origin")) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := newSessionID()
	logger = logger.With("session_id", sessionID, "request_id", reqID)

	// The upgrade hijacks the connection; the request context no longer
	// tracks the client, so the session owns its own lifetime.
	ctx := context.WithoutCancel(r.Context())

	connectTimeout := h.Config.UpstreamConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, connectTimeout)
	upstream, err := h.Upstream.Dial(dialCtx)
	cancelDial()
	if err != nil {
		h.Metrics.UpstreamConnect("error")
		logger.Warn("upstream connect failed", "error", err)
		writeWSError(conn, protocol.CodeUpstreamUnavailable, "upstream voice service is unavailable")
		return
	}
	h.Metrics.UpstreamConnect("ok")

	var observer session.Observer
	if h.Metrics != nil {
		observer = h.Metrics
	}
	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Upstream:  upstream,
		Logger:    logger,
		Observer:  observer,
		SessionID: sessionID,
		RequestID: reqID,
		Config:    sessionConfig(h.Config),
	})
	if err != nil {
		_ = upstream.Close()
		logger.Error("relay session setup failed", "error", err)
		writeWSError(conn, protocol.CodeBadRequest, "session setup failed")
		return
	}

	unregister := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	})
	defer unregister()

	started := time.Now()
	h.Metrics.SessionStarted()
	logger.Info("relay session started")

	status, err := s.Run(ctx)
	h.Metrics.SessionFinished(status.String(), time.Since(started))
	if err != nil {
		logger.Warn("relay session ended with error", "status", status.String(), "error", err)
		return
	}
	logger.Info("relay session ended", "status", status.String())
}

func sessionConfig(cfg config.Config) session.Config {
	mode, err := realtime.ParseTurnDetectionMode(cfg.TurnDetection)
	if err != nil {
		mode = realtime.TurnDetectionServerVAD
	}
	format := audio.DefaultFormat
	if cfg.SampleRateHz > 0 {
		format.SampleRate = cfg.SampleRateHz
	}
	return session.Config{
		MaxJSONMessageBytes:    cfg.MaxJSONMessageBytes,
		MaxAudioChunkBytes:     cfg.MaxAudioChunkBytes,
		MaxAudioFPS:            cfg.MaxAudioFPS,
		MaxAudioBytesPerSecond: cfg.MaxAudioBytesPerSecond,
		InboundBurstSeconds:    cfg.InboundBurstSeconds,
		OutboundQueueSize:      cfg.OutboundQueueSize,
		PingInterval:           cfg.WSPingInterval,
		WriteTimeout:           cfg.WSWriteTimeout,
		ReadTimeout:            cfg.WSReadTimeout,
		MaxSessionDuration:     cfg.MaxSessionDuration,
		TurnDetection:          mode,
		AudioFormat:            format,
	}
}

func writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, message), time.Now().Add(2*time.Second))
}

func newSessionID() string {
	return "s_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
