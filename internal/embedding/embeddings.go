package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
)

// ErrInconsistentInput is returned when an item lacks a DOI or text.
var ErrInconsistentInput = errors.New("article metadata is not consistent: every item needs a doi and text")

// Store reads and writes embeddings keyed by (doi, model).
type Store interface {
	Embedding(ctx context.Context, doi, model string) (*records.Embedding, error)
	CreateEmbedding(ctx context.Context, e records.Embedding) error
}

// Item is one text to embed.
type Item struct {
	DOI  string `json:"doi"`
	Text string `json:"text"`
}

// Options controls reuse and registration.
type Options struct {
	// Check reuses an embedding already stored for (doi, model).
	Check bool
	// Register stores newly computed embeddings.
	Register bool
}

// Result holds one embedding per input item, in input order.
type Result struct {
	Embeddings []records.Embedding
	Reused     int
	Registered registry.Outcome[records.Embedding]
}

// AddEmbeddings embeds items with emb. Every item must carry a DOI and a
// non-empty text or nothing is embedded.
func AddEmbeddings(ctx context.Context, store Store, emb *Embedder, items []Item, opts Options) (Result, error) {
	var res Result
	for i, it := range items {
		if strings.TrimSpace(it.DOI) == "" || strings.TrimSpace(it.Text) == "" {
			return res, fmt.Errorf("%w (item %d)", ErrInconsistentInput, i)
		}
	}

	res.Embeddings = make([]records.Embedding, len(items))
	var (
		todo  []int
		texts []string
	)
	for i, it := range items {
		if opts.Check {
			existing, err := store.Embedding(ctx, it.DOI, emb.Model())
			if err != nil {
				slog.Warn("embedding lookup failed", "doi", it.DOI, "error", err)
			} else if existing != nil {
				res.Embeddings[i] = *existing
				res.Reused++
				continue
			}
		}
		todo = append(todo, i)
		texts = append(texts, it.Text)
	}

	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return res, err
	}
	now := time.Now().UTC()
	fresh := make([]records.Embedding, len(todo))
	for k, i := range todo {
		e := records.Embedding{DOI: items[i].DOI, Embeddings: vecs[k], Date: now, Model: emb.Model()}
		res.Embeddings[i] = e
		fresh[k] = e
	}

	if opts.Register && len(fresh) > 0 {
		res.Registered = registry.Register(ctx, fresh, nil, store.CreateEmbedding)
	}
	slog.Info("embeddings ready", "items", len(items), "reused", res.Reused, "computed", len(fresh))
	return res, nil
}

// Pending is the subset of a registry that lists publications without an
// embedding for a model.
type Pending interface {
	Store
	PublicationsToEmbed(ctx context.Context, model string) ([]records.Publication, error)
}

// EmbedPending embeds every publication the registry reports as missing an
// embedding for emb's model and registers the results. The registry has
// already selected the records, so the subject rule of opts is not applied;
// publications that are not English are still skipped.
func EmbedPending(ctx context.Context, reg Pending, emb *Embedder, opts preprocess.Options) (Result, error) {
	pubs, err := reg.PublicationsToEmbed(ctx, emb.Model())
	if err != nil {
		return Result{}, fmt.Errorf("listing publications to embed: %w", err)
	}
	opts.RequireSubject = false
	docs, _ := preprocess.PrepareAll(pubs, opts)

	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		if !d.Valid || strings.TrimSpace(d.DOI) == "" {
			continue
		}
		items = append(items, Item{DOI: d.DOI, Text: d.Text})
	}
	if len(items) == 0 {
		slog.Info("no publications to embed", "model", emb.Model())
		return Result{}, nil
	}
	return AddEmbeddings(ctx, reg, emb, items, Options{Check: true, Register: true})
}
