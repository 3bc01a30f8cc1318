package classify

import (
	"log/slog"
	"time"

	"github.com/pubcurate/pubcurate/internal/records"
)

// Predict scores each embedding with the saved model. Rows with a
// probability at or above the model threshold are predicted relevant.
// Embeddings whose dimension differs from the model are not scored; their
// number is returned as skipped.
func Predict(s *Saved, embeddings []records.Embedding) (preds []records.Prediction, skipped int, err error) {
	m, err := s.Model()
	if err != nil {
		return nil, 0, err
	}
	now := time.Now().UTC()
	preds = make([]records.Prediction, 0, len(embeddings))
	dim := s.dim()
	for _, e := range embeddings {
		if len(e.Embeddings) != dim {
			slog.Warn("embedding dimension does not match model", "doi", e.DOI, "got", len(e.Embeddings), "want", dim)
			skipped++
			continue
		}
		p := m.Prob(toFloat64(e.Embeddings))
		pred := 0
		if p >= s.Threshold {
			pred = 1
		}
		preds = append(preds, records.Prediction{
			DOI:         e.DOI,
			Probability: p,
			Prediction:  pred,
			Model:       s.Name(),
			Date:        now,
		})
	}
	return preds, skipped, nil
}

// EmbeddingsFromRows turns model data rows into one embedding per DOI.
// Rows repeat a DOI once per label; the first occurrence wins.
func EmbeddingsFromRows(rows []records.ModelRow, model string) []records.Embedding {
	seen := make(map[string]bool, len(rows))
	out := make([]records.Embedding, 0, len(rows))
	for _, r := range rows {
		if r.DOI == "" || seen[r.DOI] {
			continue
		}
		seen[r.DOI] = true
		out = append(out, records.Embedding{DOI: r.DOI, Embeddings: r.Embeddings, Model: model})
	}
	return out
}

func (s *Saved) dim() int {
	switch {
	case s.Logistic != nil:
		return len(s.Logistic.Weights)
	case s.KNN != nil && len(s.KNN.X) > 0:
		return len(s.KNN.X[0])
	}
	return 0
}
