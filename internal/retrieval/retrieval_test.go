package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/pubcurate/pubcurate/internal/records"
)

type memSource []records.Embedding

func (m memSource) Embedding(_ context.Context, doi, model string) (*records.Embedding, error) {
	for _, e := range m {
		if e.DOI == doi && e.Model == model {
			return &e, nil
		}
	}
	return nil, nil
}

func (m memSource) Embeddings(_ context.Context, model string) ([]records.Embedding, error) {
	var out []records.Embedding
	for _, e := range m {
		if e.Model == model {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixedEmbedder []float32

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f, nil }
func (f fixedEmbedder) Model() string                                    { return "m" }

func testSource() memSource {
	return memSource{
		{DOI: "10.1/a", Model: "m", Embeddings: []float32{1, 0, 0}},
		{DOI: "10.1/b", Model: "m", Embeddings: []float32{0.9, 0.1, 0}},
		{DOI: "10.1/c", Model: "m", Embeddings: []float32{0, 1, 0}},
		{DOI: "10.1/d", Model: "m", Embeddings: []float32{-1, 0, 0}},
		{DOI: "10.1/e", Model: "other", Embeddings: []float32{1, 0, 0}},
		{DOI: "10.1/f", Model: "m", Embeddings: []float32{1, 0}},
	}
}

func TestNearest_OrderAndTopK(t *testing.T) {
	got := Nearest([]float32{1, 0, 0}, testSource(), 3, "")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Nearest does not filter by model, so a and e both score 1.
	if got[0].Score < got[1].Score || got[1].Score < got[2].Score {
		t.Errorf("not sorted: %+v", got)
	}
	for _, m := range got {
		if m.DOI == "10.1/d" || m.DOI == "10.1/f" {
			t.Errorf("unexpected match %s", m.DOI)
		}
	}
}

func TestNearest_ZeroQuery(t *testing.T) {
	if got := Nearest([]float32{0, 0, 0}, testSource(), 3, ""); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSimilar_ExcludesQuery(t *testing.T) {
	r := NewRetriever(testSource(), nil, "m")
	got, err := r.Similar(context.Background(), "10.1/a", 2)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].DOI != "10.1/b" || got[1].DOI != "10.1/c" {
		t.Errorf("got %+v", got)
	}
}

func TestSimilar_NoEmbedding(t *testing.T) {
	r := NewRetriever(testSource(), nil, "m")
	if _, err := r.Similar(context.Background(), "10.1/zzz", 2); !errors.Is(err, ErrNoEmbedding) {
		t.Errorf("err = %v, want ErrNoEmbedding", err)
	}
}

func TestSearch(t *testing.T) {
	r := NewRetriever(testSource(), fixedEmbedder{0, 1, 0}, "")
	got, err := r.Search(context.Background(), "pollen", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].DOI != "10.1/c" {
		t.Errorf("got %+v", got)
	}

	if _, err := NewRetriever(testSource(), nil, "m").Search(context.Background(), "x", 1); err == nil {
		t.Error("expected error without embedder")
	}
}
