package classify

// Metrics summarizes binary classification quality. Confusion is indexed
// [actual][predicted].
type Metrics struct {
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	Confusion [2][2]int `json:"confusion_matrix"`
	Support   int       `json:"support"`
}

// Evaluate scores m on d, predicting relevant when the probability is at
// least threshold.
func Evaluate(m Model, d Dataset, threshold float64) Metrics {
	var met Metrics
	for i, x := range d.X {
		pred := 0
		if m.Prob(x) >= threshold {
			pred = 1
		}
		met.Confusion[d.Y[i]][pred]++
	}
	met.Support = d.Len()
	tn, fp := met.Confusion[0][0], met.Confusion[0][1]
	fn, tp := met.Confusion[1][0], met.Confusion[1][1]
	if met.Support > 0 {
		met.Accuracy = float64(tp+tn) / float64(met.Support)
	}
	if tp+fp > 0 {
		met.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		met.Recall = float64(tp) / float64(tp+fn)
	}
	if met.Precision+met.Recall > 0 {
		met.F1 = 2 * met.Precision * met.Recall / (met.Precision + met.Recall)
	}
	return met
}
