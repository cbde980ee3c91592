package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"persona-chat/internal/llm"
	"persona-chat/internal/llm/gemini"
	"persona-chat/internal/provider"
)

const (
	defaultHTTPTimeout     = 90 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs connectors for every supported
// provider and stores them in the registry.
func RegisterConfiguredProviders(registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	geminiClient := newHTTPClient(defaultHTTPTimeout)
	connect := func(ctx context.Context, apiKey string) (llm.Backend, error) {
		backend, err := gemini.New(ctx, apiKey, gemini.Options{HTTPClient: geminiClient})
		if err != nil {
			return nil, fmt.Errorf("initialise gemini backend: %w", err)
		}
		return backend, nil
	}
	if err := registry.Register(llm.ProviderGemini, connect); err != nil {
		return fmt.Errorf("register gemini provider: %w", err)
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
