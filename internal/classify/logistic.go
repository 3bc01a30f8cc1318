package classify

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Logistic is an L2-regularized logistic regression fitted by full-batch
// gradient descent. C is the inverse regularization strength. Rate caps the
// step size.
type Logistic struct {
	C       float64   `json:"c"`
	Iter    int       `json:"max_iter"`
	Rate    float64   `json:"learning_rate"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// NewLogistic returns an unfitted model.
func NewLogistic(c float64, iter int) *Logistic {
	return &Logistic{C: c, Iter: iter, Rate: 0.5}
}

func (m *Logistic) Family() string { return FamilyLogistic }

func (m *Logistic) Params() map[string]float64 {
	return map[string]float64{"C": m.C, "max_iter": float64(m.Iter)}
}

// Fit learns weights from d.
func (m *Logistic) Fit(d Dataset) error {
	if d.Len() == 0 {
		return ErrNoData
	}
	n := float64(d.Len())
	dim := len(d.X[0])
	m.Weights = make([]float64, dim)
	m.Bias = 0
	grad := make([]float64, dim)

	// Step size bounded by the inverse Lipschitz constant of the loss.
	lambda := 1 / (m.C * n)
	var maxSq float64
	for _, x := range d.X {
		maxSq = max(maxSq, floats.Dot(x, x))
	}
	step := 1 / (0.25*(maxSq+1) + lambda)
	if m.Rate > 0 && m.Rate < step {
		step = m.Rate
	}

	for it := 0; it < m.Iter; it++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, x := range d.X {
			diff := sigmoid(floats.Dot(m.Weights, x)+m.Bias) - float64(d.Y[i])
			floats.AddScaled(grad, diff/n, x)
			gb += diff / n
		}
		floats.AddScaled(grad, lambda, m.Weights)
		floats.AddScaled(m.Weights, -step, grad)
		m.Bias -= step * gb
	}
	return nil
}

// Prob returns the probability that x is relevant.
func (m *Logistic) Prob(x []float64) float64 {
	return sigmoid(floats.Dot(m.Weights, x) + m.Bias)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
