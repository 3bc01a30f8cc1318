// Package embedding turns preprocessed publication text into vectors and
// keeps the registry's embedding table in step with them.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Engine is an inference backend that embeds text.
type Engine interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// DefaultBatchSize is the number of texts sent per engine request.
const DefaultBatchSize = 16

// Embedder wraps an Engine to generate text embeddings with one model.
type Embedder struct {
	engine Engine
	model  string
	batch  int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, batch: DefaultBatchSize}
}

// Model returns the model name recorded on produced embeddings.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.engine.EmbedMany(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for texts, sending fixed-size chunks
// to the engine concurrently. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += e.batch {
		end := min(start+e.batch, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.EmbedMany(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
