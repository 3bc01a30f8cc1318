package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func (m *mockEmbedder) Model() string { return "test-model" }

type mockCrossRef map[string]string

func (m mockCrossRef) Lookup(_ context.Context, doi string) (json.RawMessage, error) {
	if w, ok := m[doi]; ok {
		return json.RawMessage(w), nil
	}
	return nil, fmt.Errorf("%w: %s", crossref.ErrNotFound, doi)
}

// flakyCrossRef times out on the first lookup of each DOI.
type flakyCrossRef struct {
	works map[string]string
	seen  map[string]bool
}

func (f *flakyCrossRef) Lookup(ctx context.Context, doi string) (json.RawMessage, error) {
	if !f.seen[doi] {
		f.seen[doi] = true
		return nil, fmt.Errorf("fetching %s: %w", doi, context.DeadlineExceeded)
	}
	return mockCrossRef(f.works).Lookup(ctx, doi)
}

const pollenWork = `{"status":"ok","message":{"DOI":"10.1000/a","title":["Fossil pollen"],"subject":["Ecology"],"language":"en"}}`

func okEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter makes a job claimable again after a FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, past, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", id, err)
	}
	return status, attempts
}

func TestWorker_HarvestThenEmbed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := Enqueue(ctx, store, storage.JobHarvestDOI, []string{"10.1000/a", "10.1000/missing"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, mockCrossRef{"10.1000/a": pollenWork}, okEmbedder(), 0)
	n, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 3 {
		t.Errorf("processed %d jobs, want 3 (two harvests, one embed)", n)
	}

	pub, err := store.Publication(ctx, "10.1000/a")
	if err != nil {
		t.Fatalf("Publication: %v", err)
	}
	if !pub.Valid || pub.Title != "Fossil pollen" {
		t.Errorf("publication = %+v", pub)
	}
	missing, err := store.Publication(ctx, "10.1000/missing")
	if err != nil || missing.Valid {
		t.Errorf("missing publication = %+v, %v", missing, err)
	}

	e, err := store.Embedding(ctx, "10.1000/a", "test-model")
	if err != nil || e == nil || len(e.Embeddings) != 3 {
		t.Errorf("embedding = %+v, %v", e, err)
	}
	if e, _ := store.Embedding(ctx, "10.1000/missing", "test-model"); e != nil {
		t.Error("invalid publication should not be embedded")
	}
}

func TestWorker_HarvestRetriesTransientFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := Enqueue(ctx, store, storage.JobHarvestDOI, []string{"10.1000/a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id := storage.JobHarvestDOI + ":10.1000/a"

	cr := &flakyCrossRef{works: map[string]string{"10.1000/a": pollenWork}, seen: map[string]bool{}}
	w := NewWorker(store, cr, nil, 0)

	n, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 1 {
		t.Errorf("first drain processed %d jobs, want 1", n)
	}
	if status, attempts := jobStatus(t, store, id); status != "pending" || attempts != 1 {
		t.Errorf("after timeout: %s/%d, want pending/1", status, attempts)
	}
	if _, err := store.Publication(ctx, "10.1000/a"); err == nil {
		t.Error("a timed out lookup should not save a publication")
	}

	resetRunAfter(t, store, id)
	if _, err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if status, _ := jobStatus(t, store, id); status != "completed" {
		t.Errorf("after retry: status = %q, want completed", status)
	}
	pub, err := store.Publication(ctx, "10.1000/a")
	if err != nil {
		t.Fatalf("Publication: %v", err)
	}
	if !pub.Valid || pub.Title != "Fossil pollen" {
		t.Errorf("publication = %+v", pub)
	}
}

func TestWorker_NoEmbedderLeavesEmbedJobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	Enqueue(ctx, store, storage.JobEmbedDOI, []string{"10.1000/a"})

	w := NewWorker(store, mockCrossRef{}, nil, 0)
	did, err := w.RunOnce(ctx)
	if err != nil || did {
		t.Errorf("RunOnce = %v, %v; want no work", did, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.SavePublication(ctx, mustPublication(t)); err != nil {
		t.Fatal(err)
	}
	Enqueue(ctx, store, storage.JobEmbedDOI, []string{"10.1000/a"})
	id := storage.JobEmbedDOI + ":10.1000/a"

	var calls atomic.Int32
	w := NewWorker(store, mockCrossRef{}, &mockEmbedder{
		embedFn: func(context.Context, string) ([]float32, error) {
			if n := calls.Add(1); n <= 2 {
				return nil, fmt.Errorf("transient error %d", n)
			}
			return []float32{0.1}, nil
		},
	}, 0)

	for i := 1; i <= 3; i++ {
		did, err := w.RunOnce(ctx)
		if err != nil || !did {
			t.Fatalf("RunOnce %d = %v, %v", i, did, err)
		}
		status, attempts := jobStatus(t, store, id)
		switch i {
		case 1, 2:
			if status != "pending" || attempts != i {
				t.Errorf("after failure %d: %s/%d", i, status, attempts)
			}
			resetRunAfter(t, store, id)
		case 3:
			if status != "completed" {
				t.Errorf("after success: status = %q", status)
			}
		}
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	Enqueue(ctx, store, storage.JobEmbedDOI, []string{"10.1000/unknown"})
	id := storage.JobEmbedDOI + ":10.1000/unknown"

	w := NewWorker(store, mockCrossRef{}, okEmbedder(), 0)
	for i := 1; i <= 3; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
		if i < 3 {
			resetRunAfter(t, store, id)
		}
	}
	if status, _ := jobStatus(t, store, id); status != "failed" {
		t.Errorf("final status = %q, want failed", status)
	}
}

func mustPublication(t *testing.T) (p records.Publication) {
	t.Helper()
	p.DOI = "10.1000/a"
	p.Title = "Pollen"
	p.Language = "en"
	p.Subjects = []string{"Ecology"}
	p.Valid = true
	return p
}
