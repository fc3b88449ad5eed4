package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vango-go/vai-relay/pkg/core/voice/oneshot"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
	"github.com/vango-go/vai-relay/pkg/gateway/config"
	"github.com/vango-go/vai-relay/pkg/gateway/handlers"
	"github.com/vango-go/vai-relay/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-relay/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-relay/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-relay/pkg/gateway/metrics"
	"github.com/vango-go/vai-relay/pkg/gateway/mw"
	"github.com/vango-go/vai-relay/pkg/gateway/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	upstreams    upstream.Factory
	httpClient   *http.Client
	metrics      *metrics.Metrics
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		}),
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		upstreams: upstream.Factory{
			HTTPClient:  httpClient,
			Credentials: upstream.StaticCredential(cfg.OpenAIAPIKey),
			Logger:      logger,
			Realtime: realtime.Options{
				URL:              cfg.RealtimeURL,
				Model:            cfg.RealtimeModel,
				HandshakeTimeout: cfg.UpstreamConnectTimeout,
				WriteTimeout:     cfg.UpstreamWriteTimeout,
			},
			Session: sessionTemplate(cfg),
			OneShot: oneshot.Config{
				TranscriptionModel: cfg.TranscriptionModel,
				ChatModel:          cfg.ChatModel,
				SpeechModel:        cfg.SpeechModel,
				SpeechVoice:        cfg.SpeechVoice,
				SpeechFormat:       cfg.SpeechFormat,
				Instructions:       cfg.Instructions,
			},
			MaxRetries: 2,
		},
		httpClient:   httpClient,
		metrics:      metrics.New(cfg.MetricsNamespace),
		lifecycle:    lifecycle.New(nil),
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

// sessionTemplate is the session.update sent on every upstream connect.
func sessionTemplate(cfg config.Config) realtime.SessionConfig {
	mode, err := realtime.ParseTurnDetectionMode(cfg.TurnDetection)
	if err != nil {
		mode = realtime.TurnDetectionServerVAD
	}
	return realtime.SessionConfig{
		Modalities:         cfg.Modalities,
		Voice:              cfg.Voice,
		Instructions:       cfg.Instructions,
		InputAudioFormat:   cfg.InputAudioFormat,
		OutputAudioFormat:  cfg.OutputAudioFormat,
		TranscriptionModel: cfg.InputTranscriptionModel,
		TurnDetection: realtime.TurnDetection{
			Mode:              mode,
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMS:   int(cfg.VADPrefixPadding / time.Millisecond),
			SilenceDurationMS: int(cfg.VADSilenceDuration / time.Millisecond),
		},
	}
}

func (s *Server) routes() {
	s.handle("/healthz", "healthz", handlers.HealthHandler{})
	s.handle("/readyz", "readyz", handlers.ReadyHandler{
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	relay := handlers.RelayHandler{
		Config:       s.cfg,
		Upstream:     s.upstreams,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	}
	s.handle("/ws", "ws", relay)
	s.handle("/v1/realtime", "realtime", relay)

	oneShot := handlers.OneShotHandler{
		Config:  s.cfg,
		Clients: s.upstreams,
		Logger:  s.logger,
		Metrics: s.metrics,
	}
	s.handle("/v1/transcribe", "transcribe", http.HandlerFunc(oneShot.Transcribe))
	s.handle("/v1/chat", "chat", http.HandlerFunc(oneShot.Chat))
	s.handle("/v1/speak", "speak", http.HandlerFunc(oneShot.Speak))
	s.handle("/process", "process", http.HandlerFunc(oneShot.Process))

	static := handlers.StaticHandler{}
	s.handle("/static/", "static", static)
	s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			s.metrics.InstrumentRoute("index", static).ServeHTTP(w, r)
			return
		}
		handlers.NotFoundHandler{}.ServeHTTP(w, r)
	}))
}

func (s *Server) handle(pattern, route string, h http.Handler) {
	s.mux.Handle(pattern, s.metrics.InstrumentRoute(route, h))
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	h = otelhttp.NewHandler(h, "vai-relay", otelhttp.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
	}))
	return h
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// SetDraining flips readiness and makes the relay refuse new sessions.
func (s *Server) SetDraining(draining bool) {
	s.lifecycle.SetDraining(draining)
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}

// WarnLiveSessionsDraining tells every connected client the relay is going away.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.liveSessions.WarnAll(protocol.CodeDraining, "relay is shutting down")
}

// WaitLiveSessions blocks until every live session has ended or ctx is done.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}
