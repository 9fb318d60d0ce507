// Package rag stores text with embeddings and retrieves it by meaning.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/embedding"
	"github.com/nidhogg/nora/internal/indexer"
	"github.com/nidhogg/nora/internal/vectorstore"
)

const (
	CollHistory = "history"
	CollFiles   = "files"
)

const defaultDimension = 768

// VectorStore is the subset of the Qdrant client the index needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, threshold float32) ([]*vectorstore.SearchResult, error)
}

// Index coordinates embedding generation and vector search.
type Index struct {
	embedder  embedding.Provider
	store     VectorStore
	threshold float32
	logger    *zap.Logger
}

// NewIndex creates an index. Hits scoring below threshold are dropped.
func NewIndex(embedder embedding.Provider, store VectorStore, threshold float32, logger *zap.Logger) *Index {
	return &Index{embedder: embedder, store: store, threshold: threshold, logger: logger}
}

// Init ensures the history and files collections exist. The dimension is
// probed with a test embedding when the provider does not know it yet.
func (ix *Index) Init(ctx context.Context) error {
	dim := ix.embedder.Dimension()
	if dim == 0 {
		if vecs, err := ix.embedder.Embed(ctx, []string{"dimension probe"}); err == nil && len(vecs) > 0 {
			dim = len(vecs[0])
		}
	}
	if dim == 0 {
		dim = defaultDimension
	}
	for _, name := range []string{CollHistory, CollFiles} {
		if err := ix.store.EnsureCollection(ctx, name, uint64(dim)); err != nil {
			return fmt.Errorf("init collection %s: %w", name, err)
		}
	}
	ix.logger.Info("rag collections ready", zap.Int("dimension", dim))
	return nil
}

// Hit is one retrieved text.
type Hit struct {
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Add embeds content and stores it in collection.
func (ix *Index) Add(ctx context.Context, collection, content string, meta map[string]string) error {
	vectors, err := ix.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("empty embedding result")
	}
	payload := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		payload[k] = v
	}
	payload["content"] = content
	payload["indexed_at"] = time.Now().UTC().Format(time.RFC3339)
	return ix.store.Upsert(ctx, collection, uuid.New().String(), vectors[0], payload)
}

// Search returns up to k hits from collection, best first.
func (ix *Index) Search(ctx context.Context, collection, query string, k int) ([]Hit, error) {
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	results, err := ix.store.Search(ctx, collection, vectors[0], uint64(k), ix.threshold)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		content := r.Payload["content"]
		meta := make(map[string]string, len(r.Payload))
		for key, v := range r.Payload {
			if key != "content" {
				meta[key] = v
			}
		}
		hits = append(hits, Hit{Content: content, Score: r.Score, Metadata: meta})
	}
	return hits, nil
}

// Remember stores a chat message in the history collection.
func (ix *Index) Remember(ctx context.Context, role, content string) error {
	return ix.Add(ctx, CollHistory, content, map[string]string{"role": role})
}

// Recall returns the contents of the k past messages closest to query.
func (ix *Index) Recall(ctx context.Context, query string, k int) ([]string, error) {
	hits, err := ix.Search(ctx, CollHistory, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Content
	}
	return out, nil
}

// AddProject stores each indexed file's preview in the files collection.
// Failures are logged and counted; the count of stored files is returned.
func (ix *Index) AddProject(ctx context.Context, idx *indexer.Index) int {
	stored := 0
	for _, f := range idx.Files {
		meta := map[string]string{
			"project":  idx.ProjectName,
			"path":     f.RelativePath,
			"language": f.Language,
			"hash":     f.Hash,
		}
		if err := ix.Add(ctx, CollFiles, f.ContentPreview, meta); err != nil {
			ix.logger.Warn("index file embedding failed", zap.String("path", f.RelativePath), zap.Error(err))
			continue
		}
		stored++
	}
	ix.logger.Info("embedded project files", zap.String("project", idx.ProjectName), zap.Int("files", stored))
	return stored
}

// FormatContext renders hits into a prompt section.
func FormatContext(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Retrieved Context\n\n")
	for i, h := range hits {
		source := h.Metadata["path"]
		if source == "" {
			source = h.Metadata["role"]
		}
		fmt.Fprintf(&b, "%d. [%s] (score: %.2f)\n%s\n\n", i+1, source, h.Score, h.Content)
	}
	return b.String()
}
