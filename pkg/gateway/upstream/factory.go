// Package upstream builds connections to the upstream voice service from the
// host's credential and configuration.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3/option"

	"github.com/vango-go/vai-relay/pkg/core/voice/oneshot"
	"github.com/vango-go/vai-relay/pkg/core/voice/realtime"
)

// ErrNoCredential is returned when no upstream credential is configured.
var ErrNoCredential = errors.New("upstream: no credential configured")

// CredentialProvider yields the upstream API credential per connection.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a fixed API key, typically OPENAI_API_KEY.
type StaticCredential string

func (s StaticCredential) Credential(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", ErrNoCredential
	}
	return key, nil
}

type Factory struct {
	HTTPClient  *http.Client
	Credentials CredentialProvider
	Logger      *slog.Logger

	Realtime realtime.Options
	Session  realtime.SessionConfig

	OneShot        oneshot.Config
	OneShotBaseURL string
	MaxRetries     int
}

func (f Factory) credential(ctx context.Context) (string, error) {
	if f.Credentials == nil {
		return "", ErrNoCredential
	}
	return f.Credentials.Credential(ctx)
}

// Dial opens one upstream realtime link configured with the session template.
// Credential failures surface as *realtime.ConnectionError.
func (f Factory) Dial(ctx context.Context) (*realtime.Link, error) {
	key, err := f.credential(ctx)
	if err != nil {
		return nil, &realtime.ConnectionError{Err: err}
	}
	opts := f.Realtime
	if opts.Logger == nil {
		opts.Logger = f.Logger
	}
	return realtime.Connect(ctx, key, opts, f.Session)
}

// NewOneShot builds a one-shot client sharing the factory's HTTP transport.
func (f Factory) NewOneShot(ctx context.Context) (*oneshot.Client, error) {
	key, err := f.credential(ctx)
	if err != nil {
		return nil, err
	}
	var opts []option.RequestOption
	if f.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(f.HTTPClient))
	}
	if f.OneShotBaseURL != "" {
		opts = append(opts, option.WithBaseURL(f.OneShotBaseURL))
	}
	if f.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(f.MaxRetries))
	}
	return oneshot.New(key, f.OneShot, f.Logger, opts...), nil
}
