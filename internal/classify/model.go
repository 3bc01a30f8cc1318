package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Model families.
const (
	FamilyLogistic = "logistic"
	FamilyKNN      = "knn"
)

// Model is a fitted classifier.
type Model interface {
	Family() string
	Params() map[string]float64
	Fit(d Dataset) error
	Prob(x []float64) float64
}

// Saved is the on-disk form of a trained model.
type Saved struct {
	ID        string             `json:"id"`
	Family    string             `json:"family"`
	Project   string             `json:"project,omitempty"`
	Embedding string             `json:"embedding_model,omitempty"`
	Threshold float64            `json:"threshold"`
	Params    map[string]float64 `json:"params"`
	Metrics   Metrics            `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
	Logistic  *Logistic          `json:"logistic,omitempty"`
	KNN       *KNN               `json:"knn,omitempty"`
}

// Model returns the fitted classifier held by s.
func (s *Saved) Model() (Model, error) {
	switch {
	case s.Family == FamilyLogistic && s.Logistic != nil:
		return s.Logistic, nil
	case s.Family == FamilyKNN && s.KNN != nil:
		return s.KNN, nil
	}
	return nil, fmt.Errorf("classify: saved model %s has no %q parameters", s.ID, s.Family)
}

// Name identifies the model in prediction records.
func (s *Saved) Name() string {
	return s.Family + "_" + s.CreatedAt.UTC().Format("2006-01-02T15-04-05")
}

// NewSaved wraps a trained model for persistence.
func NewSaved(m Model, met Metrics, threshold float64) *Saved {
	s := &Saved{
		ID:        uuid.NewString(),
		Family:    m.Family(),
		Threshold: threshold,
		Params:    m.Params(),
		Metrics:   met,
		CreatedAt: time.Now().UTC(),
	}
	switch v := m.(type) {
	case *Logistic:
		s.Logistic = v
	case *KNN:
		s.KNN = v
	}
	return s
}

// Save writes s to dir as <family>_<timestamp>.json and returns the path.
func (s *Saved) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating model dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, s.Name()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing model: %w", err)
	}
	return path, nil
}

// Load reads a saved model.
func Load(path string) (*Saved, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	var s Saved
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}
	if _, err := s.Model(); err != nil {
		return nil, err
	}
	return &s, nil
}
