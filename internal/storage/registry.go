package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
)

var _ registry.Registry = (*Store)(nil)

// insert runs an INSERT OR IGNORE and maps an ignored row to
// registry.ErrAlreadyPresent.
func (s *Store) insert(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrAlreadyPresent
	}
	return nil
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CreateDOI(ctx context.Context, doi string) error {
	return s.insert(ctx, `INSERT OR IGNORE INTO dois (doi, created_at) VALUES (?, ?)`, doi, formatTime(time.Time{}))
}

// DOIExists reports whether doi is registered.
func (s *Store) DOIExists(ctx context.Context, doi string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM dois WHERE doi = ?`, doi)
}

// DOIs lists every registered DOI in order.
func (s *Store) DOIs(ctx context.Context) ([]records.DOI, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doi, created_at FROM dois ORDER BY doi`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []records.DOI
	for rows.Next() {
		var d records.DOI
		var at string
		if err := rows.Scan(&d.DOI, &at); err != nil {
			return nil, err
		}
		d.Date = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ProjectExists(ctx context.Context, project string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM projects WHERE project = ?`, project)
}

func (s *Store) CreateProject(ctx context.Context, p records.Project) error {
	return s.insert(ctx, `INSERT OR IGNORE INTO projects (project, notes, created_at) VALUES (?, ?, ?)`,
		p.Name, p.Notes, formatTime(time.Time{}))
}

func (s *Store) PersonExists(ctx context.Context, orcid string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM people WHERE orcid = ?`, orcid)
}

func (s *Store) CreatePerson(ctx context.Context, orcid string) error {
	return s.insert(ctx, `INSERT OR IGNORE INTO people (orcid, created_at) VALUES (?, ?)`, orcid, formatTime(time.Time{}))
}

func (s *Store) LabelExists(ctx context.Context, label, project string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM labels WHERE label = ? AND project = ?`, label, project)
}

func (s *Store) CreateLabel(ctx context.Context, l records.Label) error {
	return s.insert(ctx, `INSERT OR IGNORE INTO labels (label, project) VALUES (?, ?)`, l.Label, l.Project)
}

func (s *Store) PaperLabelExists(ctx context.Context, pl records.PaperLabel) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM paper_labels WHERE doi = ? AND label = ? AND project = ? AND orcid = ?`,
		pl.DOI, pl.Label, pl.Project, pl.Person)
}

// CreatePaperLabel also registers the DOI when it is new.
func (s *Store) CreatePaperLabel(ctx context.Context, pl records.PaperLabel) error {
	if err := s.CreateDOI(ctx, pl.DOI); err != nil && !errors.Is(err, registry.ErrAlreadyPresent) {
		return err
	}
	return s.insert(ctx, `INSERT OR IGNORE INTO paper_labels (doi, label, project, orcid, created_at) VALUES (?, ?, ?, ?, ?)`,
		pl.DOI, pl.Label, pl.Project, pl.Person, formatTime(pl.Date))
}

func (s *Store) Embedding(ctx context.Context, doi, model string) (*records.Embedding, error) {
	var vec, at string
	err := s.db.QueryRowContext(ctx, `SELECT vector, created_at FROM embeddings WHERE doi = ? AND model = ?`, doi, model).Scan(&vec, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := &records.Embedding{DOI: doi, Model: model, Date: parseTime(at)}
	if err := json.Unmarshal([]byte(vec), &e.Embeddings); err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", doi, err)
	}
	return e, nil
}

func (s *Store) CreateEmbedding(ctx context.Context, e records.Embedding) error {
	vec, err := json.Marshal(e.Embeddings)
	if err != nil {
		return err
	}
	return s.insert(ctx, `INSERT OR IGNORE INTO embeddings (doi, model, vector, created_at) VALUES (?, ?, ?, ?)`,
		e.DOI, e.Model, string(vec), formatTime(e.Date))
}

// Embeddings returns every stored embedding for model.
func (s *Store) Embeddings(ctx context.Context, model string) ([]records.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doi, vector, created_at FROM embeddings WHERE model = ? ORDER BY doi`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []records.Embedding
	for rows.Next() {
		e := records.Embedding{Model: model}
		var vec, at string
		if err := rows.Scan(&e.DOI, &vec, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vec), &e.Embeddings); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.DOI, err)
		}
		e.Date = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ModelData(ctx context.Context, model, project string) ([]records.ModelRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pl.doi, e.vector, pl.label, pl.project
		FROM paper_labels pl
		JOIN embeddings e ON e.doi = pl.doi AND e.model = ?
		WHERE pl.project = ?
		ORDER BY pl.doi, pl.label`, model, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []records.ModelRow
	for rows.Next() {
		var r records.ModelRow
		var vec string
		if err := rows.Scan(&r.DOI, &vec, &r.Label, &r.Project); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vec), &r.Embeddings); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.DOI, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PublicationsToEmbed(ctx context.Context, model string) ([]records.Publication, error) {
	return s.queryPublications(ctx, `
		SELECT `+publicationColumns+` FROM publications p
		WHERE NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.doi = p.doi AND e.model = ?)
		ORDER BY p.doi`, model)
}
