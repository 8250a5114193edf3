package trainer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/classifier"
	"github.com/metatrace/metascan/internal/metadata"
)

// ClassMetrics holds per-class evaluation results.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Metrics is the held-out evaluation summary. It is reviewed by a human
// before the artifact is deployed; nothing here gates the build
// automatically.
type Metrics struct {
	Accuracy float64
	PerClass [2]ClassMetrics
}

// Evaluate scores the forest on a held-out dataset.
func Evaluate(f *classifier.Forest, test *Dataset) (*Metrics, error) {
	var confusion [2][2]int // [actual][predicted]

	for i, row := range test.X {
		fv := &metadata.FeatureVector{Names: test.Features, Values: row}
		p, err := f.PredictProba(fv)
		if err != nil {
			return nil, err
		}
		pred := 0
		if p > 0.5 {
			pred = 1
		}
		confusion[test.Y[i]][pred]++
	}

	m := &Metrics{}
	correct := confusion[0][0] + confusion[1][1]
	m.Accuracy = float64(correct) / float64(test.Len())

	for c := 0; c < 2; c++ {
		tp := confusion[c][c]
		fp := confusion[1-c][c]
		fn := confusion[c][1-c]

		var precision, recall float64
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			recall = float64(tp) / float64(tp+fn)
		}
		var f1 float64
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		m.PerClass[c] = ClassMetrics{
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   confusion[c][0] + confusion[c][1],
		}
	}
	return m, nil
}

// String renders the metrics as a per-class table.
func (m *Metrics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "accuracy: %.4f\n", m.Accuracy)
	fmt.Fprintf(&b, "%-10s %9s %9s %9s %9s\n", "class", "precision", "recall", "f1", "support")
	labels := [2]string{"original", "tampered"}
	for c, cm := range m.PerClass {
		fmt.Fprintf(&b, "%-10s %9.4f %9.4f %9.4f %9d\n", labels[c], cm.Precision, cm.Recall, cm.F1, cm.Support)
	}
	return b.String()
}

// Log emits the metrics through the structured logger.
func (m *Metrics) Log() {
	zap.L().Info("trainer: held-out evaluation",
		zap.Float64("accuracy", m.Accuracy),
		zap.Float64("original_precision", m.PerClass[0].Precision),
		zap.Float64("original_recall", m.PerClass[0].Recall),
		zap.Float64("original_f1", m.PerClass[0].F1),
		zap.Float64("tampered_precision", m.PerClass[1].Precision),
		zap.Float64("tampered_recall", m.PerClass[1].Recall),
		zap.Float64("tampered_f1", m.PerClass[1].F1),
	)
}
