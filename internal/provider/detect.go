package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// API flavours a server can speak.
const (
	APIAuto   = "auto"
	APIOllama = "ollama"
	APIOpenAI = "openai"
)

// ErrNoServer is returned when no supported API answers at a URL.
var ErrNoServer = errors.New("no supported model server found")

// Detect probes baseURL and reports which API it serves: the native Ollama
// API (/api/version) first, then an OpenAI-compatible one (/v1/models).
func Detect(ctx context.Context, baseURL string, verifySSL bool) (string, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	client := newHTTPClient(ProviderConfig{Timeout: 5 * time.Second, VerifySSL: verifySSL})

	probe := func(path string) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}

	if probe("/api/version") {
		return APIOllama, nil
	}
	if probe("/v1/models") {
		return APIOpenAI, nil
	}
	return "", fmt.Errorf("%w at %s", ErrNoServer, baseURL)
}

// New builds a provider for cfg. cfg.Type selects the API; "auto" or empty
// runs Detect against cfg.Endpoint.
func New(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	kind := cfg.Type
	if kind == "" || kind == APIAuto {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultOllamaURL
		}
		detected, err := Detect(ctx, endpoint, cfg.VerifySSL)
		if err != nil {
			return nil, err
		}
		logger.Info("detected model server", zap.String("url", endpoint), zap.String("api", detected))
		kind = detected
	}

	switch kind {
	case APIOllama:
		return NewOllamaProvider(cfg, logger), nil
	case APIOpenAI:
		if cfg.Endpoint != "" && !strings.HasSuffix(strings.TrimRight(cfg.Endpoint, "/"), "/v1") {
			cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/") + "/v1"
		}
		return NewOpenAIProvider(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown provider type %q", kind)
}
