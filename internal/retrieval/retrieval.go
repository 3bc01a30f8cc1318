// Package retrieval finds publications whose embeddings are closest to a
// query, either another publication or free text.
package retrieval

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pubcurate/pubcurate/internal/records"
)

// ErrNoEmbedding is returned when the query DOI has no embedding for the
// requested model.
var ErrNoEmbedding = errors.New("no embedding for DOI")

// Source lists stored embeddings.
type Source interface {
	Embedding(ctx context.Context, doi, model string) (*records.Embedding, error)
	Embeddings(ctx context.Context, model string) ([]records.Embedding, error)
}

// QueryEmbedder turns free text into a vector with a fixed model.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Match is a publication with its cosine similarity to the query.
type Match struct {
	DOI   string  `json:"doi"`
	Score float32 `json:"score"`
}

// Retriever searches the embeddings of one model.
type Retriever struct {
	source   Source
	embedder QueryEmbedder
	model    string
}

// NewRetriever creates a Retriever over source for model. embedder may be
// nil, in which case Search is unavailable.
func NewRetriever(source Source, embedder QueryEmbedder, model string) *Retriever {
	if model == "" && embedder != nil {
		model = embedder.Model()
	}
	return &Retriever{source: source, embedder: embedder, model: model}
}

// Similar returns the topK publications closest to doi, excluding doi.
func (r *Retriever) Similar(ctx context.Context, doi string, topK int) ([]Match, error) {
	e, err := r.source.Embedding(ctx, doi, r.model)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w %s (model %s)", ErrNoEmbedding, doi, r.model)
	}
	all, err := r.source.Embeddings(ctx, r.model)
	if err != nil {
		return nil, err
	}
	return Nearest(e.Embeddings, all, topK, doi), nil
}

// Search embeds text and returns the topK closest publications.
func (r *Retriever) Search(ctx context.Context, text string, topK int) ([]Match, error) {
	if r.embedder == nil {
		return nil, errors.New("retrieval: no embedder configured")
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	all, err := r.source.Embeddings(ctx, r.model)
	if err != nil {
		return nil, err
	}
	return Nearest(vec, all, topK, ""), nil
}

// Nearest scans candidates by brute force and returns the topK by cosine
// similarity, best first. Candidates whose DOI equals exclude, or whose
// dimension differs from query, are skipped.
func Nearest(query []float32, candidates []records.Embedding, topK int, exclude string) []Match {
	qNorm := norm(query)
	if qNorm == 0 || topK <= 0 {
		return nil
	}

	h := &matchHeap{}
	for _, c := range candidates {
		if c.DOI == exclude || len(c.Embeddings) != len(query) {
			continue
		}
		score := cosine(query, c.Embeddings, qNorm)
		if h.Len() < topK {
			heap.Push(h, Match{DOI: c.DOI, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Match{DOI: c.DOI, Score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func cosine(a, b []float32, aNorm float32) float32 {
	bNorm := norm(b)
	if bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot) / (aNorm * bNorm)
}

// matchHeap is a min-heap of Match ordered by Score.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
