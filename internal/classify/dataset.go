// Package classify trains and applies relevance classifiers over
// publication embeddings.
package classify

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"

	"github.com/pubcurate/pubcurate/internal/records"
)

// ErrNoData is returned when a dataset has too few rows or lacks one class.
var ErrNoData = errors.New("classify: not enough labelled data")

// Dataset is a labelled design matrix. Y is 1 for relevant rows.
type Dataset struct {
	DOIs []string
	X    [][]float64
	Y    []int
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Y) }

// Positives counts rows labelled relevant.
func (d Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		n += y
	}
	return n
}

func (d Dataset) subset(idx []int) Dataset {
	out := Dataset{
		DOIs: make([]string, len(idx)),
		X:    make([][]float64, len(idx)),
		Y:    make([]int, len(idx)),
	}
	for k, i := range idx {
		out.DOIs[k], out.X[k], out.Y[k] = d.DOIs[i], d.X[i], d.Y[i]
	}
	return out
}

// FromModelRows builds a dataset from labelled embeddings. A row is
// negative when its label matches negative; all other labels are relevant.
// Rows whose vector length differs from the first row are an error.
func FromModelRows(rows []records.ModelRow, negative *regexp.Regexp) (Dataset, error) {
	var ds Dataset
	dim := -1
	for _, r := range rows {
		if len(r.Embeddings) == 0 {
			continue
		}
		if dim < 0 {
			dim = len(r.Embeddings)
		}
		if len(r.Embeddings) != dim {
			return Dataset{}, fmt.Errorf("classify: embedding for %s has %d dimensions, want %d", r.DOI, len(r.Embeddings), dim)
		}
		y := 1
		if negative.MatchString(r.Label) {
			y = 0
		}
		ds.DOIs = append(ds.DOIs, r.DOI)
		ds.X = append(ds.X, toFloat64(r.Embeddings))
		ds.Y = append(ds.Y, y)
	}
	return ds, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Split partitions d into train and test sets, keeping the class ratio in
// both. The same seed always yields the same split.
func Split(d Dataset, testFraction float64, seed uint64) (train, test Dataset) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var trainIdx, testIdx []int
	for _, class := range []int{0, 1} {
		var idx []int
		for i, y := range d.Y {
			if y == class {
				idx = append(idx, i)
			}
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(float64(len(idx))*testFraction + 0.5)
		if n == 0 && len(idx) > 1 {
			n = 1
		}
		testIdx = append(testIdx, idx[:n]...)
		trainIdx = append(trainIdx, idx[n:]...)
	}
	return d.subset(trainIdx), d.subset(testIdx)
}

// folds returns k stratified folds of row indices.
func folds(d Dataset, k int, seed uint64) [][]int {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]int, k)
	next := 0
	for _, class := range []int{0, 1} {
		var idx []int
		for i, y := range d.Y {
			if y == class {
				idx = append(idx, i)
			}
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			out[next%k] = append(out[next%k], i)
			next++
		}
	}
	return out
}
