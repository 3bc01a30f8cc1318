package classify

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// KNN scores a vector by the share of relevant rows among its K nearest
// training rows under cosine similarity.
type KNN struct {
	K int         `json:"k"`
	X [][]float64 `json:"x"`
	Y []int       `json:"y"`
}

// NewKNN returns an unfitted model.
func NewKNN(k int) *KNN { return &KNN{K: k} }

func (m *KNN) Family() string { return FamilyKNN }

func (m *KNN) Params() map[string]float64 {
	return map[string]float64{"k": float64(m.K)}
}

// Fit memorizes the training rows.
func (m *KNN) Fit(d Dataset) error {
	if d.Len() == 0 {
		return ErrNoData
	}
	m.X, m.Y = d.X, d.Y
	return nil
}

func (m *KNN) Prob(x []float64) float64 {
	type neighbour struct {
		sim float64
		y   int
	}
	ns := make([]neighbour, len(m.X))
	for i, row := range m.X {
		ns[i] = neighbour{cosine(x, row), m.Y[i]}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].sim > ns[j].sim })
	k := min(m.K, len(ns))
	if k == 0 {
		return 0
	}
	pos := 0
	for _, n := range ns[:k] {
		pos += n.y
	}
	return float64(pos) / float64(k)
}

func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
