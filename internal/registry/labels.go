package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/records"
)

var (
	ErrProjectNotFound = errors.New("project is not registered")
	ErrLabelNotFound   = errors.New("label is not registered")
	ErrPersonNotFound  = errors.New("person is not registered")
)

// EnsureProject registers project unless it already exists. It reports
// whether the project was created.
func EnsureProject(ctx context.Context, reg Registry, project, notes string) (bool, error) {
	ok, err := reg.ProjectExists(ctx, project)
	if err != nil {
		return false, fmt.Errorf("checking project %s: %w", project, err)
	}
	if ok {
		return false, nil
	}
	if err := reg.CreateProject(ctx, records.Project{Name: project, Notes: notes}); err != nil {
		if errors.Is(err, ErrAlreadyPresent) {
			return false, nil
		}
		return false, fmt.Errorf("creating project %s: %w", project, err)
	}
	return true, nil
}

// AddPaperLabels registers each paper label under project. The project must
// already exist. Labels and people missing from the registry are created
// when create is set and are an error otherwise. Items whose DOI or ORCID
// does not validate are rejected without contacting the registry.
func AddPaperLabels(ctx context.Context, reg Registry, labels []records.PaperLabel, project string, create bool) (Outcome[records.PaperLabel], error) {
	var out Outcome[records.PaperLabel]

	ok, err := reg.ProjectExists(ctx, project)
	if err != nil {
		return out, fmt.Errorf("checking project %s: %w", project, err)
	}
	if !ok {
		return out, fmt.Errorf("%w: %s; register the project before adding labels", ErrProjectNotFound, project)
	}

	var valid []records.PaperLabel
	for _, l := range labels {
		doi, okDOI := ident.NormalizeDOI(l.DOI)
		orcid, okORCID := ident.NormalizeORCID(l.Person)
		if !okDOI || !okORCID || strings.TrimSpace(l.Label) == "" {
			slog.Warn("paper label rejected", "doi", l.DOI, "label", l.Label, "person", l.Person)
			out.Submitted = append(out.Submitted, l)
			out.Rejected = append(out.Rejected, l)
			continue
		}
		l.DOI = doi
		l.Person = orcid
		l.Label = strings.TrimSpace(l.Label)
		l.Project = project
		if l.Date.IsZero() {
			l.Date = time.Now().UTC()
		}
		valid = append(valid, l)
	}

	for _, label := range distinct(valid, func(l records.PaperLabel) string { return l.Label }) {
		ok, err := reg.LabelExists(ctx, label, project)
		if err != nil {
			return out, fmt.Errorf("checking label %s: %w", label, err)
		}
		if ok {
			continue
		}
		if !create {
			return out, fmt.Errorf("%w: %s for project %s; set create to add it", ErrLabelNotFound, label, project)
		}
		if err := reg.CreateLabel(ctx, records.Label{Label: label, Project: project}); err != nil && !errors.Is(err, ErrAlreadyPresent) {
			return out, fmt.Errorf("creating label %s: %w", label, err)
		}
	}

	for _, person := range distinct(valid, func(l records.PaperLabel) string { return l.Person }) {
		ok, err := reg.PersonExists(ctx, person)
		if err != nil {
			return out, fmt.Errorf("checking person %s: %w", person, err)
		}
		if ok {
			continue
		}
		if !create {
			return out, fmt.Errorf("%w: %s; set create to add them", ErrPersonNotFound, person)
		}
		if err := reg.CreatePerson(ctx, person); err != nil && !errors.Is(err, ErrAlreadyPresent) {
			return out, fmt.Errorf("creating person %s: %w", person, err)
		}
	}

	res := Register(ctx, valid, reg.PaperLabelExists, reg.CreatePaperLabel)
	out.Submitted = append(out.Submitted, res.Submitted...)
	out.Inserted = append(out.Inserted, res.Inserted...)
	out.Present = append(out.Present, res.Present...)
	out.Rejected = append(out.Rejected, res.Rejected...)
	return out, nil
}

func distinct(labels []records.PaperLabel, key func(records.PaperLabel) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range labels {
		k := key(l)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReadLabelsCSV reads paper labels from CSV with a header row containing
// doi, label and person (or orcid) columns. Column order is free.
func ReadLabelsCSV(r io.Reader) ([]records.PaperLabel, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int)
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["person"]; !ok {
		if i, ok := col["orcid"]; ok {
			col["person"] = i
		}
	}
	for _, need := range []string{"doi", "label", "person"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("missing %q column", need)
		}
	}

	var out []records.PaperLabel
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(out)+2, err)
		}
		out = append(out, records.PaperLabel{
			DOI:    row[col["doi"]],
			Label:  row[col["label"]],
			Person: row[col["person"]],
		})
	}
	return out, nil
}
