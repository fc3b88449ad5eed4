package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/vai-relay/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-relay/pkg/gateway/server"
)

func smokeConfig() config.Config {
	return config.Config{
		Addr:                          "127.0.0.1:0",
		OpenAIAPIKey:                  "sk-test",
		CORSAllowedOrigins:            []string{"*"},
		TurnDetection:                 "server_vad",
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		ShutdownGracePeriod:           time.Second,
		LogLevel:                      "error",
		MetricsNamespace:              "vai_relay",
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, relayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		listen:       net.Listen,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "boom") {
		t.Fatalf("stderr=%q, want config error", got)
	}
}

func TestRunRelay_MissingDependencies(t *testing.T) {
	t.Parallel()

	if err := runRelay(context.Background(), io.Discard, relayDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestBuildHTTPServer_UsesListenAddr(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Port:              9999,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != ":9999" {
		t.Fatalf("Addr=%q, want :9999", srv.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(config.Config{LogLevel: "info", LogFormat: config.LogFormatJSON}, &buf)
	logger.Info("hello", "session_id", "s_1")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"session_id":"s_1"`) {
		t.Fatalf("log line=%q, want JSON", buf.String())
	}
}

func TestRunRelay_SignalDrainsAndStops(t *testing.T) {
	var (
		mu    sync.Mutex
		sigCh chan<- os.Signal
		addr  string
	)
	listening := make(chan struct{})

	deps := relayDeps{
		loadConfig: func() (config.Config, error) { return smokeConfig(), nil },
		newGateway: gatewayserver.New,
		listen: func(network, a string) (net.Listener, error) {
			ln, err := net.Listen(network, a)
			if err == nil {
				mu.Lock()
				addr = ln.Addr().String()
				mu.Unlock()
			}
			return ln, err
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			mu.Lock()
			sigCh = c
			mu.Unlock()
			close(listening)
		},
		signalStop: func(c chan<- os.Signal) {},
	}

	done := make(chan error, 1)
	go func() { done <- runRelay(context.Background(), io.Discard, deps) }()

	select {
	case <-listening:
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not start")
	}

	mu.Lock()
	base := "http://" + addr
	ch := sigCh
	mu.Unlock()

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	ch <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runRelay: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("relay did not stop after signal")
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gatewayserver.New(smokeConfig(), logger)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
