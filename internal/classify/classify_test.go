package classify

import (
	"errors"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/pubcurate/pubcurate/internal/records"
)

var notPattern = regexp.MustCompile(`(?i)\bnot\b`)

// separable returns n rows per class clustered around two axes.
func separable(n int) Dataset {
	rng := rand.New(rand.NewPCG(1, 2))
	noise := func() float64 { return rng.Float64()*0.2 - 0.1 }
	var d Dataset
	for i := 0; i < n; i++ {
		d.DOIs = append(d.DOIs, "10.1000/pos"+string(rune('a'+i)))
		d.X = append(d.X, []float64{1 + noise(), noise(), 0.5})
		d.Y = append(d.Y, 1)
		d.DOIs = append(d.DOIs, "10.1000/neg"+string(rune('a'+i)))
		d.X = append(d.X, []float64{noise(), 1 + noise(), 0.5})
		d.Y = append(d.Y, 0)
	}
	return d
}

func TestFromModelRows(t *testing.T) {
	rows := []records.ModelRow{
		{DOI: "a", Embeddings: []float32{1, 0}, Label: "Neotoma"},
		{DOI: "b", Embeddings: []float32{0, 1}, Label: "Not Neotoma"},
		{DOI: "c", Label: "Neotoma"},
	}
	ds, err := FromModelRows(rows, notPattern)
	if err != nil {
		t.Fatalf("FromModelRows: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (row without embedding skipped)", ds.Len())
	}
	if ds.Y[0] != 1 || ds.Y[1] != 0 {
		t.Errorf("Y = %v, want [1 0]", ds.Y)
	}

	rows = append(rows, records.ModelRow{DOI: "d", Embeddings: []float32{1, 2, 3}, Label: "x"})
	if _, err := FromModelRows(rows, notPattern); err == nil {
		t.Error("expected a dimension mismatch error")
	}
}

func TestSplit_StratifiedAndDeterministic(t *testing.T) {
	d := separable(20)
	train, test := Split(d, 0.25, 42)
	if test.Len() != 10 || train.Len() != 30 {
		t.Fatalf("train/test = %d/%d, want 30/10", train.Len(), test.Len())
	}
	if test.Positives() != 5 {
		t.Errorf("test positives = %d, want 5", test.Positives())
	}

	_, again := Split(d, 0.25, 42)
	if strings.Join(again.DOIs, ",") != strings.Join(test.DOIs, ",") {
		t.Error("same seed produced a different split")
	}
}

type constModel float64

func (c constModel) Family() string             { return "const" }
func (c constModel) Params() map[string]float64 { return nil }
func (c constModel) Fit(Dataset) error          { return nil }
func (c constModel) Prob([]float64) float64     { return float64(c) }

func TestEvaluate(t *testing.T) {
	d := Dataset{X: make([][]float64, 4), Y: []int{1, 1, 0, 0}}
	met := Evaluate(constModel(0.9), d, 0.5)
	if met.Accuracy != 0.5 || met.Precision != 0.5 || met.Recall != 1 {
		t.Errorf("unexpected metrics %+v", met)
	}
	if met.Confusion[0][1] != 2 || met.Confusion[1][1] != 2 {
		t.Errorf("confusion = %v", met.Confusion)
	}

	met = Evaluate(constModel(0.1), d, 0.5)
	if met.F1 != 0 || met.Precision != 0 {
		t.Errorf("all-negative metrics %+v", met)
	}
}

func TestTrain(t *testing.T) {
	for _, family := range []string{FamilyLogistic, FamilyKNN} {
		t.Run(family, func(t *testing.T) {
			rep, err := Train(separable(20), TrainOptions{Family: family, TestFraction: 0.2, Seed: 42, Threshold: 0.5})
			if err != nil {
				t.Fatalf("Train: %v", err)
			}
			if rep.Family != family {
				t.Errorf("Family = %q", rep.Family)
			}
			if rep.Holdout.F1 < 0.9 {
				t.Errorf("holdout F1 = %.2f, want >= 0.9 (%+v)", rep.Holdout.F1, rep.Holdout)
			}
			if len(rep.Candidates) == 0 || rep.Model == nil {
				t.Error("missing candidates or model")
			}
		})
	}
}

func TestTrain_NoData(t *testing.T) {
	d := separable(20)
	for i := range d.Y {
		d.Y[i] = 1
	}
	if _, err := Train(d, TrainOptions{TestFraction: 0.2}); !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
	if _, err := Train(separable(20), TrainOptions{Family: "forest", TestFraction: 0.2}); err == nil {
		t.Error("expected unknown family error")
	}
}

func TestSaveLoadPredict(t *testing.T) {
	rep, err := Train(separable(20), TrainOptions{Family: FamilyLogistic, TestFraction: 0.2, Seed: 7, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	path, err := rep.Model.Save(t.TempDir())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "logistic_") {
		t.Errorf("path = %s", path)
	}

	saved, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	preds, skipped, err := Predict(saved, []records.Embedding{
		{DOI: "10.1000/rel", Embeddings: []float32{1, 0, 0.5}},
		{DOI: "10.1000/short", Embeddings: []float32{1}},
		{DOI: "10.1000/irr", Embeddings: []float32{0, 1, 0.5}},
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(preds) != 2 || preds[0].DOI != "10.1000/rel" || preds[1].DOI != "10.1000/irr" {
		t.Fatalf("predictions = %+v", preds)
	}
	if preds[0].Prediction != 1 || preds[1].Prediction != 0 {
		t.Errorf("predictions = %+v", preds)
	}
	if preds[0].Model != saved.Name() {
		t.Errorf("Model = %q, want %q", preds[0].Model, saved.Name())
	}
}

func TestEmbeddingsFromRows(t *testing.T) {
	rows := []records.ModelRow{
		{DOI: "10.1000/a", Embeddings: []float32{1, 2}, Label: "Neotoma"},
		{DOI: "10.1000/a", Embeddings: []float32{1, 2}, Label: "Not Neotoma"},
		{DOI: "", Embeddings: []float32{3, 4}},
		{DOI: "10.1000/b", Embeddings: []float32{5, 6}},
	}
	got := EmbeddingsFromRows(rows, "m")
	if len(got) != 2 || got[0].DOI != "10.1000/a" || got[1].DOI != "10.1000/b" {
		t.Fatalf("EmbeddingsFromRows = %+v", got)
	}
	if got[1].Model != "m" || got[1].Embeddings[0] != 5 {
		t.Errorf("second embedding = %+v", got[1])
	}
}
