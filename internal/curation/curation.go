// Package curation runs the object-storage flows: maintaining the DOI
// table, harvesting raw CrossRef responses, building the metadata table and
// folding new annotations into the source tables.
package curation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/stream"

	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/objstore"
	"github.com/pubcurate/pubcurate/internal/records"
)

// Fetcher returns raw CrossRef JSON for a DOI. It never fails; failures are
// encoded in the returned document.
type Fetcher interface {
	Fetch(ctx context.Context, doi string) json.RawMessage
}

// Flows holds the dependencies shared by the curation flows.
type Flows struct {
	store    *objstore.Store
	crossref Fetcher
	workers  int
	now      func() time.Time
	logger   *slog.Logger
}

// New returns Flows over store, fetching metadata with cr.
func New(store *objstore.Store, cr Fetcher) *Flows {
	return &Flows{
		store:    store,
		crossref: cr,
		workers:  8,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
}

// UpdateDOIs cleans values and merges the valid, previously unseen DOIs
// into the DOI table at loc. It returns the full table as pushed, or nil
// when no value was valid.
func (f *Flows) UpdateDOIs(ctx context.Context, loc objstore.Location, values []string, create bool) ([]records.DOI, error) {
	res := ident.CleanDOIs(values)
	if len(res.Clean) == 0 {
		f.logger.Info("No valid DOIs in the submitted set of values", "submitted", len(values))
		return nil, nil
	}
	f.logger.Info("DOIs submitted", "submitted", len(values), "valid", len(res.Clean))

	existing, err := objstore.Pull(ctx, f.store, loc, objstore.DOICodec)
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("the remote DOI table is unusable: %w", err)
	default:
		f.logger.Info("DOIs already submitted", "count", len(existing))
	}

	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		known[d.DOI] = true
	}
	table := existing
	now := f.now()
	added := 0
	for _, doi := range res.Clean {
		if known[doi] {
			continue
		}
		table = append(table, records.DOI{DOI: doi, Date: now})
		added++
	}
	table = objstore.Dedupe(objstore.DOICodec, table)
	f.logger.Info("DOI table updated", "new", added, "total", len(table))

	if _, err := objstore.Push(ctx, f.store, loc, objstore.DOICodec, table, objstore.PushOptions{Create: create}); err != nil {
		return nil, err
	}
	return table, nil
}

// HarvestRaw stores the raw CrossRef response for every DOI in dois that
// has no blob under dois/ in bucket yet. Failure envelopes are stored too.
// It returns the DOIs fetched.
func (f *Flows) HarvestRaw(ctx context.Context, dois []string, bucket string) ([]string, error) {
	keys, err := f.store.ListKeys(ctx, bucket, "dois")
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	f.logger.Info("DOI metadata exists", "records", len(have))

	var todo []string
	for _, doi := range dois {
		if doi != "" && !have[ident.DOIKey(doi)] {
			todo = append(todo, doi)
		}
	}
	f.logger.Info("fetching DOI metadata", "records", len(todo))

	var (
		fetched []string
		errs    []error
	)
	s := stream.New().WithMaxGoroutines(f.workers)
	for _, doi := range todo {
		s.Go(func() stream.Callback {
			raw := f.crossref.Fetch(ctx, doi)
			err := f.store.Put(ctx, objstore.Location{Bucket: bucket, Key: ident.DOIKey(doi)}, raw, "application/json")
			return func() {
				if err != nil {
					errs = append(errs, err)
					return
				}
				fetched = append(fetched, doi)
			}
		})
	}
	s.Wait()

	if err := errors.Join(errs...); err != nil {
		return fetched, fmt.Errorf("storing raw metadata: %w", err)
	}
	return fetched, nil
}

// tableDOIs reads the DOI table at loc and returns its valid DOIs.
func (f *Flows) tableDOIs(ctx context.Context, loc objstore.Location) ([]string, error) {
	table, err := objstore.Pull(ctx, f.store, loc, objstore.DOICodec)
	if err != nil {
		return nil, fmt.Errorf("reading DOI table: %w", err)
	}
	values := make([]string, len(table))
	for i, d := range table {
		values[i] = d.DOI
	}
	res := ident.CleanDOIs(values)
	f.logger.Info("DOI table loaded", "total", len(table), "valid", len(res.Clean), "removed", len(res.Removed))
	return res.Clean, nil
}

// HarvestTable stores raw CrossRef responses, in the bucket of doiLoc, for
// the valid DOIs of the DOI table at doiLoc. Malformed rows are skipped.
func (f *Flows) HarvestTable(ctx context.Context, doiLoc objstore.Location) ([]string, error) {
	dois, err := f.tableDOIs(ctx, doiLoc)
	if err != nil {
		return nil, err
	}
	return f.HarvestRaw(ctx, dois, doiLoc.Bucket)
}

// BuildMetadata harvests raw responses for every DOI in the DOI table and
// adds a parsed record to the metadata table for each DOI it lacks. DOIs
// whose stored response holds no work get an invalid placeholder.
func (f *Flows) BuildMetadata(ctx context.Context, doiLoc, metaLoc objstore.Location, create bool) ([]records.Publication, error) {
	clean, err := f.tableDOIs(ctx, doiLoc)
	if err != nil {
		return nil, err
	}
	if _, err := f.HarvestRaw(ctx, clean, metaLoc.Bucket); err != nil {
		return nil, err
	}

	meta, err := objstore.Pull(ctx, f.store, metaLoc, objstore.PublicationCodec)
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		if !create {
			return nil, fmt.Errorf("metadata table %s: %w", metaLoc, err)
		}
		f.logger.Info("creating new metadata table", "location", metaLoc.String())
		meta = nil
	case err != nil:
		return nil, err
	}

	have := make(map[string]bool, len(meta))
	for _, p := range meta {
		have[p.DOI] = true
	}
	var missing []string
	for _, doi := range clean {
		if !have[doi] {
			missing = append(missing, doi)
		}
	}
	if len(missing) == 0 {
		f.logger.Info("No records to add")
		return meta, nil
	}
	f.logger.Info("pulling metadata", "records", len(missing))

	for _, doi := range missing {
		raw, err := f.store.Get(ctx, objstore.Location{Bucket: metaLoc.Bucket, Key: ident.DOIKey(doi)})
		if err != nil {
			f.logger.Warn("cannot read raw metadata; skipping", "doi", doi, "error", err)
			continue
		}
		pub, err := crossref.Parse(raw)
		if err != nil {
			f.logger.Info("no CrossRef data; creating non-valid metadata entry", "doi", doi, "error", err)
			pub = crossref.Invalid(doi)
		}
		pub.DOI = doi
		pub.Date = f.now()
		meta = append(meta, pub)
	}

	meta = objstore.Dedupe(objstore.PublicationCodec, meta)
	if _, err := objstore.Push(ctx, f.store, metaLoc, objstore.PublicationCodec, meta, objstore.PushOptions{Create: create}); err != nil {
		return nil, err
	}
	return meta, nil
}
