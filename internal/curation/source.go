package curation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/objstore"
	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
)

// ErrMissingColumn is returned for an annotation CSV without a required
// column.
var ErrMissingColumn = errors.New("annotation CSV is missing a column")

var annotationTimeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04:05.999999",
	time.DateOnly,
	"1/2/2006",
}

// ReadAnnotationsCSV reads annotations from CSV with a header row. The DOI
// and annotation columns are required; annotator, annotationDate,
// verified, verifiedBy and verifiedDate are optional. Header names are
// matched case-insensitively.
func ReadAnnotationsCSV(r io.Reader) ([]records.Annotation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"doi", "annotation"} {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []records.Annotation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a := records.Annotation{
			DOI:        get(rec, "doi"),
			Annotation: get(rec, "annotation"),
			Annotator:  get(rec, "annotator"),
			VerifiedBy: get(rec, "verifiedby"),
		}
		if a.Date, err = parseTime(get(rec, "annotationdate")); err != nil {
			return nil, fmt.Errorf("line %d: annotationDate: %w", line, err)
		}
		if a.VerifiedAt, err = parseTime(get(rec, "verifieddate")); err != nil {
			return nil, fmt.Errorf("line %d: verifiedDate: %w", line, err)
		}
		if v := get(rec, "verified"); v != "" {
			a.Verified, _ = strconv.ParseBool(v)
		}
		out = append(out, a)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range annotationTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// MergeAnnotations combines two annotation sets keeping, for each DOI, the
// annotation with the newest date. The result is sorted by DOI.
func MergeAnnotations(existing, incoming []records.Annotation) []records.Annotation {
	all := append(append([]records.Annotation(nil), existing...), incoming...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].DOI != all[j].DOI {
			return all[i].DOI < all[j].DOI
		}
		return all[i].Date.After(all[j].Date)
	})
	return objstore.Dedupe(objstore.AnnotationCodec, all)
}

// SourceUpdate reports what UpdateSource changed.
type SourceUpdate struct {
	Annotations  int      `json:"annotations"`
	Fetched      []string `json:"fetched"`
	Publications int      `json:"publications"`
}

// UpdateSource folds the annotations read from r into the annotation table
// and appends preprocessed CrossRef metadata for every annotated DOI the
// metadata table lacks.
func (f *Flows) UpdateSource(ctx context.Context, r io.Reader, annLoc, metaLoc objstore.Location) (SourceUpdate, error) {
	var up SourceUpdate
	incoming, err := ReadAnnotationsCSV(r)
	if err != nil {
		return up, err
	}

	existing, err := objstore.Pull(ctx, f.store, annLoc, objstore.AnnotationCodec)
	if err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return up, err
	}
	merged := MergeAnnotations(existing, incoming)
	if _, err := objstore.Push(ctx, f.store, annLoc, objstore.AnnotationCodec, merged, objstore.PushOptions{Create: true}); err != nil {
		return up, err
	}
	up.Annotations = len(merged)

	meta, err := objstore.Pull(ctx, f.store, metaLoc, objstore.PublicationCodec)
	if err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return up, err
	}
	have := make(map[string]bool, len(meta))
	for _, p := range meta {
		have[p.DOI] = true
	}
	var missing []string
	for _, a := range merged {
		if !have[a.DOI] {
			missing = append(missing, a.DOI)
			have[a.DOI] = true
		}
	}
	f.logger.Info("new DOIs to fetch", "total", len(missing))

	var pubs []records.Publication
	for _, doi := range missing {
		if _, ok := ident.NormalizeDOI(doi); !ok {
			f.logger.Warn("skipping annotation with an invalid DOI", "doi", doi)
			continue
		}
		pub, err := crossref.Parse(f.crossref.Fetch(ctx, doi))
		if err != nil {
			pub = crossref.Invalid(doi)
		}
		pub.DOI = doi
		pubs = append(pubs, pub)
		up.Fetched = append(up.Fetched, doi)
	}
	docs, _ := preprocess.PrepareAll(pubs, preprocess.DefaultOptions)
	for _, d := range docs {
		meta = append(meta, d.Publication)
	}
	meta = objstore.Dedupe(objstore.PublicationCodec, meta)
	if _, err := objstore.Push(ctx, f.store, metaLoc, objstore.PublicationCodec, meta, objstore.PushOptions{Create: true}); err != nil {
		return up, err
	}
	up.Publications = len(meta)
	f.logger.Info("source updated", "annotations", up.Annotations, "fetched", len(up.Fetched), "publications", up.Publications)
	return up, nil
}

// LabelsFromAnnotations converts annotations into paper labels for project.
// The annotator becomes the labelling person unless it is empty, in which
// case person is used.
func LabelsFromAnnotations(anns []records.Annotation, project, person string) []records.PaperLabel {
	out := make([]records.PaperLabel, 0, len(anns))
	for _, a := range anns {
		who := a.Annotator
		if _, ok := ident.NormalizeORCID(who); !ok {
			who = person
		}
		out = append(out, records.PaperLabel{
			DOI:     a.DOI,
			Label:   a.Annotation,
			Project: project,
			Person:  who,
			Date:    a.Date,
		})
	}
	return out
}
