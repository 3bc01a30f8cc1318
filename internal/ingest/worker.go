// Package ingest runs the background worker that harvests CrossRef metadata
// and computes embeddings for DOIs queued in the local store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
	"github.com/pubcurate/pubcurate/internal/storage"
)

// JobStore abstracts the job queue and the records the jobs touch.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	Publication(ctx context.Context, doi string) (records.Publication, error)
	SavePublication(ctx context.Context, p records.Publication) error
	CreateEmbedding(ctx context.Context, e records.Embedding) error
}

// Fetcher returns raw CrossRef JSON for a DOI. It reports a DOI CrossRef
// does not know with crossref.ErrNotFound.
type Fetcher interface {
	Lookup(ctx context.Context, doi string) (json.RawMessage, error)
}

// ContentEmbedder generates embeddings for text with a fixed model.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Payload is the JSON body of harvest and embed jobs.
type Payload struct {
	DOI string `json:"doi"`
}

// Worker processes harvest_doi and embed_doi jobs from the SQLite queue.
type Worker struct {
	store    JobStore
	crossref Fetcher
	embedder ContentEmbedder
	opts     preprocess.Options
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. embedder may be nil, in which case embed
// jobs are left queued. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, cr Fetcher, embedder ContentEmbedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		crossref: cr,
		embedder: embedder,
		opts:     preprocess.DefaultOptions,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Enqueue queues a harvest job for each DOI. Job IDs derive from the DOI so
// queuing the same DOI twice is harmless.
func Enqueue(ctx context.Context, store JobStore, jobType string, dois []string) error {
	for _, doi := range dois {
		payload, err := json.Marshal(Payload{DOI: doi})
		if err != nil {
			return err
		}
		job := storage.Job{ID: jobType + ":" + doi, Type: jobType, PayloadJSON: string(payload)}
		if err := store.EnqueueJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) types() []string {
	if w.embedder == nil {
		return []string{storage.JobHarvestDOI}
	}
	return []string{storage.JobHarvestDOI, storage.JobEmbedDOI}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// Drain processes jobs until none are due and returns how many ran.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		done, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !done {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, w.types())
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	switch job.Type {
	case storage.JobHarvestDOI:
		return w.harvest(ctx, payload.DOI)
	case storage.JobEmbedDOI:
		return w.embed(ctx, payload.DOI)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

// harvest fetches and cleans metadata for doi. Valid records are queued
// for embedding. A DOI unknown to CrossRef is saved as invalid; any other
// lookup failure fails the job so it is retried.
func (w *Worker) harvest(ctx context.Context, doi string) error {
	pub := crossref.Invalid(doi)
	raw, err := w.crossref.Lookup(ctx, doi)
	switch {
	case errors.Is(err, crossref.ErrNotFound):
		w.logger.Info("DOI not found in CrossRef", "doi", doi)
	case err != nil:
		return err
	default:
		parsed, err := crossref.Parse(raw)
		if err == nil {
			pub = parsed
		} else if !errors.Is(err, crossref.ErrNotFound) {
			return err
		}
	}
	pub.DOI = doi
	doc, _ := preprocess.Prepare(pub, w.opts)
	if err := w.store.SavePublication(ctx, doc.Publication); err != nil {
		return err
	}
	if !doc.Valid || w.embedder == nil {
		return nil
	}
	return Enqueue(ctx, w.store, storage.JobEmbedDOI, []string{doi})
}

func (w *Worker) embed(ctx context.Context, doi string) error {
	pub, err := w.store.Publication(ctx, doi)
	if err != nil {
		return fmt.Errorf("loading publication %s: %w", doi, err)
	}
	doc, _ := preprocess.Prepare(pub, w.opts)
	vec, err := w.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}
	err = w.store.CreateEmbedding(ctx, records.Embedding{
		DOI:        doi,
		Embeddings: vec,
		Date:       time.Now().UTC(),
		Model:      w.embedder.Model(),
	})
	if err != nil && !errors.Is(err, registry.ErrAlreadyPresent) {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}
