// Package embedding turns text into vectors for semantic recall.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `yaml:"provider"` // "ollama" (default) or "openai"
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "nomic-embed-text"
	requestTimeout  = 30 * time.Second
)

// New returns the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	switch cfg.Provider {
	case "", "ollama", "local":
		return NewOllamaProvider(cfg), nil
	case "openai", "api":
		return NewAPIProvider(cfg), nil
	}
	return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
}

// dims caches the dimension reported by the first embedding.
type dims struct {
	configured int
	observed   atomic.Int64
}

func (d *dims) observe(vecs [][]float32) {
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vecs[0])))
	}
}

// Dimension returns the observed dimension, or the configured one before the
// first successful call.
func (d *dims) Dimension() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}

// OllamaProvider calls Ollama's /api/embeddings, one text per request.
type OllamaProvider struct {
	dims
	endpoint string
	model    string
	client   *http.Client
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	return &OllamaProvider{
		dims:     dims{configured: cfg.Dimension},
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp struct {
			Embedding []float32 `json:"embedding"`
		}
		req := struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}{p.model, text}
		if err := postJSON(ctx, p.client, p.endpoint+"/api/embeddings", "", req, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	p.observe(out)
	return out, nil
}

// APIProvider calls an OpenAI-compatible /embeddings endpoint in one batch.
type APIProvider struct {
	dims
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

func NewAPIProvider(cfg Config) *APIProvider {
	return &APIProvider{
		dims:     dims{configured: cfg.Dimension},
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{p.model, texts}
	var resp apiResponse
	if err := postJSON(ctx, p.client, p.endpoint+"/embeddings", p.apiKey, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	p.observe(out)
	return out, nil
}
