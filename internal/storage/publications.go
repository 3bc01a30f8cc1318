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

const publicationColumns = `p.doi, p.title, p.subtitle, p.authors, p.subjects, p.abstract, p.container_title,
	p.language, p.published, p.publisher, p.url, p.valid, p.fetched_at`

// SavePublication inserts or replaces the metadata for p.DOI.
func (s *Store) SavePublication(ctx context.Context, p records.Publication) error {
	authors, err := json.Marshal(p.Authors)
	if err != nil {
		return err
	}
	subjects, err := json.Marshal(p.Subjects)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publications (doi, title, subtitle, authors, subjects, abstract, container_title, language, published, publisher, url, valid, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doi) DO UPDATE SET
			title = excluded.title, subtitle = excluded.subtitle, authors = excluded.authors,
			subjects = excluded.subjects, abstract = excluded.abstract, container_title = excluded.container_title,
			language = excluded.language, published = excluded.published, publisher = excluded.publisher,
			url = excluded.url, valid = excluded.valid, fetched_at = excluded.fetched_at`,
		p.DOI, p.Title, p.Subtitle, string(authors), string(subjects), p.Abstract, p.ContainerTitle,
		p.Language, p.Published, p.Publisher, p.URL, p.Valid, formatTime(p.Date),
	)
	if err != nil {
		return fmt.Errorf("saving publication %s: %w", p.DOI, err)
	}
	return nil
}

// Publication returns the stored metadata for doi or ErrNotFound.
func (s *Store) Publication(ctx context.Context, doi string) (records.Publication, error) {
	pubs, err := s.queryPublications(ctx, `SELECT `+publicationColumns+` FROM publications p WHERE p.doi = ?`, doi)
	if err != nil {
		return records.Publication{}, err
	}
	if len(pubs) == 0 {
		return records.Publication{}, ErrNotFound
	}
	return pubs[0], nil
}

// Publications lists stored publications, optionally only valid ones.
func (s *Store) Publications(ctx context.Context, validOnly bool) ([]records.Publication, error) {
	q := `SELECT ` + publicationColumns + ` FROM publications p`
	if validOnly {
		q += ` WHERE p.valid = 1`
	}
	return s.queryPublications(ctx, q+` ORDER BY p.doi`)
}

// RelevantPublications returns publications whose latest prediction is
// relevant. SQLite takes the bare prediction column from the MAX row.
func (s *Store) RelevantPublications(ctx context.Context) ([]records.Publication, error) {
	return s.queryPublications(ctx, `
		SELECT `+publicationColumns+` FROM publications p
		JOIN (
			SELECT doi, prediction, MAX(predicted_at) AS latest FROM predictions GROUP BY doi
		) lp ON lp.doi = p.doi
		WHERE lp.prediction = 1
		ORDER BY p.doi`)
}

func (s *Store) queryPublications(ctx context.Context, query string, args ...any) ([]records.Publication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Publication
	for rows.Next() {
		var p records.Publication
		var authors, subjects, at string
		if err := rows.Scan(&p.DOI, &p.Title, &p.Subtitle, &authors, &subjects, &p.Abstract, &p.ContainerTitle,
			&p.Language, &p.Published, &p.Publisher, &p.URL, &p.Valid, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(authors), &p.Authors); err != nil {
			return nil, fmt.Errorf("decoding authors for %s: %w", p.DOI, err)
		}
		if err := json.Unmarshal([]byte(subjects), &p.Subjects); err != nil {
			return nil, fmt.Errorf("decoding subjects for %s: %w", p.DOI, err)
		}
		p.Date = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePredictions stores a prediction run.
func (s *Store) SavePredictions(ctx context.Context, preds []records.Prediction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range preds {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO predictions (doi, model, probability, prediction, predicted_at) VALUES (?, ?, ?, ?, ?)`,
			p.DOI, p.Model, p.Probability, p.Prediction, formatTime(p.Date)); err != nil {
			return fmt.Errorf("saving prediction for %s: %w", p.DOI, err)
		}
	}
	return tx.Commit()
}

// LatestPrediction returns the newest prediction for doi or ErrNotFound.
func (s *Store) LatestPrediction(ctx context.Context, doi string) (records.Prediction, error) {
	p := records.Prediction{DOI: doi}
	var at string
	err := s.db.QueryRowContext(ctx, `
		SELECT model, probability, prediction, predicted_at FROM predictions
		WHERE doi = ? ORDER BY predicted_at DESC LIMIT 1`, doi).Scan(&p.Model, &p.Probability, &p.Prediction, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Date = parseTime(at)
	return p, nil
}

// KnownArticles returns the set of xDD article IDs already recorded.
func (s *Store) KnownArticles(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT gddid FROM articles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

// SaveArticles records xDD articles, ignoring IDs already present, and
// returns how many were new.
func (s *Store) SaveArticles(ctx context.Context, arts []records.Article) (int, error) {
	added := 0
	for _, a := range arts {
		err := s.insert(ctx, `INSERT OR IGNORE INTO articles (gddid, doi, url, status, queried_at) VALUES (?, ?, ?, ?, ?)`,
			a.GDDID, a.DOI, a.URL, a.Status, formatTime(time.Time{}))
		switch {
		case err == nil:
			added++
		case errors.Is(err, registry.ErrAlreadyPresent):
		default:
			return added, fmt.Errorf("saving article %s: %w", a.GDDID, err)
		}
	}
	return added, nil
}
