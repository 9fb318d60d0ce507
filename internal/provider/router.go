package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Router manages model servers and routes requests, trying fallbacks when
// the primary fails.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string // model -> providerID
	fallbacks []string          // provider chain tried after the primary
	defaults  string            // default provider ID
	stream    io.Writer
	streamMu  sync.Mutex
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Bind routes requests for model to a specific provider.
func (r *Router) Bind(model, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[model] = providerID
}

// SetFallbacks configures the providers tried after the primary fails.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providerIDs
}

// SetStreamWriter sets where streamed deltas are written. nil discards them.
func (r *Router) SetStreamWriter(w io.Writer) {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	r.stream = w
}

// Route sends a chat request through the appropriate provider.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(req.Model)
	fallbacks := r.fallbackProviders(primary)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for model %s", req.Model)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("model", req.Model), zap.Error(err))

	for _, fb := range fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for model %s: %w", req.Model, err)
}

// RouteStream sends a streaming chat request to the primary provider.
func (r *Router) RouteStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	r.mu.RLock()
	primary := r.getProvider(req.Model)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for model %s", req.Model)
	}
	return primary.ChatStream(ctx, req)
}

// Call sends messages to model and returns the full reply. With stream set,
// deltas are also written to the stream writer as they arrive.
func (r *Router) Call(ctx context.Context, messages []Message, model string, stream bool) (string, error) {
	req := &ChatRequest{Model: model, Messages: messages}
	if !stream {
		resp, err := r.Route(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	ch, err := r.RouteStream(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range ch {
		if strings.HasPrefix(chunk.FinishReason, "error: ") {
			return b.String(), fmt.Errorf("stream: %s", strings.TrimPrefix(chunk.FinishReason, "error: "))
		}
		if chunk.Content != "" {
			b.WriteString(chunk.Content)
			r.writeDelta(chunk.Content)
		}
	}
	r.writeDelta("\n")
	if err := ctx.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

func (r *Router) writeDelta(s string) {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.stream != nil {
		io.WriteString(r.stream, s)
	}
}

func (r *Router) getProvider(model string) Provider {
	if pid, ok := r.bindings[model]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

func (r *Router) fallbackProviders(primary Provider) []Provider {
	var out []Provider
	for _, id := range r.fallbacks {
		p, ok := r.providers[id]
		if !ok || p == primary {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ListModels returns the models of the default provider.
func (r *Router) ListModels(ctx context.Context) ([]Model, error) {
	r.mu.RLock()
	p := r.getProvider("")
	r.mu.RUnlock()
	if p == nil {
		return nil, fmt.Errorf("no provider registered")
	}
	return p.ListModels(ctx)
}
