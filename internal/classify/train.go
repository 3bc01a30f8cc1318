package classify

import (
	"fmt"
	"log/slog"
)

// TrainOptions configures model selection.
type TrainOptions struct {
	Family       string
	TestFraction float64
	Seed         uint64
	Folds        int
	Threshold    float64
}

// Candidate is one point of the hyper-parameter grid with its
// cross-validated F1.
type Candidate struct {
	Params map[string]float64 `json:"params"`
	F1     float64            `json:"cv_f1"`
}

// Report describes a training run.
type Report struct {
	Family     string      `json:"family"`
	Train      int         `json:"train_rows"`
	Test       int         `json:"test_rows"`
	Candidates []Candidate `json:"candidates"`
	Best       Candidate   `json:"best"`
	Holdout    Metrics     `json:"test_metrics"`
	Model      *Saved      `json:"-"`
}

func grid(family string) ([]func() Model, error) {
	switch family {
	case FamilyLogistic, "":
		var out []func() Model
		for _, c := range []float64{0.001, 0.01, 0.1, 1, 10} {
			for _, iter := range []int{100, 1000} {
				out = append(out, func() Model { return NewLogistic(c, iter) })
			}
		}
		return out, nil
	case FamilyKNN:
		var out []func() Model
		for _, k := range []int{3, 5, 7} {
			out = append(out, func() Model { return NewKNN(k) })
		}
		return out, nil
	}
	return nil, fmt.Errorf("classify: unknown model family %q", family)
}

// Train splits d, selects hyper-parameters by stratified k-fold F1 on the
// training part, refits the winner on all training rows and evaluates it
// on the held-out rows.
func Train(d Dataset, opts TrainOptions) (Report, error) {
	if opts.Folds < 2 {
		opts.Folds = 5
	}
	if d.Len() < 2*opts.Folds || d.Positives() == 0 || d.Positives() == d.Len() {
		return Report{}, fmt.Errorf("%w: %d rows, %d relevant", ErrNoData, d.Len(), d.Positives())
	}
	makers, err := grid(opts.Family)
	if err != nil {
		return Report{}, err
	}

	train, test := Split(d, opts.TestFraction, opts.Seed)
	rep := Report{Family: makers[0]().Family(), Train: train.Len(), Test: test.Len()}
	fs := folds(train, opts.Folds, opts.Seed)

	bestIdx := -1
	for i, mk := range makers {
		f1, err := crossValidate(mk, train, fs, opts.Threshold)
		if err != nil {
			return Report{}, err
		}
		c := Candidate{Params: mk().Params(), F1: f1}
		rep.Candidates = append(rep.Candidates, c)
		if bestIdx < 0 || f1 > rep.Best.F1 {
			bestIdx, rep.Best = i, c
		}
	}

	m := makers[bestIdx]()
	if err := m.Fit(train); err != nil {
		return Report{}, err
	}
	rep.Holdout = Evaluate(m, test, opts.Threshold)
	rep.Model = NewSaved(m, rep.Holdout, opts.Threshold)

	slog.Info("model trained", "family", rep.Family, "params", rep.Best.Params,
		"cv_f1", rep.Best.F1, "test_f1", rep.Holdout.F1, "test_accuracy", rep.Holdout.Accuracy)
	return rep, nil
}

func crossValidate(mk func() Model, d Dataset, fs [][]int, threshold float64) (float64, error) {
	var sum float64
	for k := range fs {
		var trainIdx []int
		for j, f := range fs {
			if j != k {
				trainIdx = append(trainIdx, f...)
			}
		}
		m := mk()
		if err := m.Fit(d.subset(trainIdx)); err != nil {
			return 0, err
		}
		sum += Evaluate(m, d.subset(fs[k]), threshold).F1
	}
	return sum / float64(len(fs)), nil
}
