// Package classifier loads a pretrained random-forest artifact and scores
// metadata feature vectors for tampering.
package classifier

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/metatrace/metascan/internal/metadata"
)

// ErrFeatureMismatch means the incoming vector shares no features with the
// trained schema, so no prediction can be made. Surfaced to the caller as a
// classification failure, never silently coerced.
var ErrFeatureMismatch = eris.New("classifier: no overlap with trained feature schema")

// Node is one decision node in a tree. Leaf nodes have Left == -1 and carry
// the weighted class distribution seen at that leaf during training.
type Node struct {
	Feature   int        `json:"f"`
	Threshold float64    `json:"t"`
	Left      int        `json:"l"`
	Right     int        `json:"r"`
	Value     [2]float64 `json:"v"`
}

// Tree is a single decision tree, nodes stored in a flat slice with index 0
// as the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is the serialized classifier artifact. FeatureNames fixes the input
// schema; Defaults supplies the value used for a schema feature absent from
// a request (train-set medians). Class 1 is tampered, class 0 original.
type Forest struct {
	Version      int       `json:"version"`
	FeatureNames []string  `json:"feature_names"`
	Defaults     []float64 `json:"feature_defaults"`
	Trees        []Tree    `json:"trees"`
}

// Load reads and validates a forest artifact. Callers treat any error as
// fatal: the process cannot serve classification requests without it.
func Load(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: read artifact %s", path)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "classifier: parse artifact %s", path)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	zap.L().Info("classifier: artifact loaded",
		zap.String("path", path),
		zap.Int("trees", len(f.Trees)),
		zap.Int("features", len(f.FeatureNames)),
	)
	return &f, nil
}

func (f *Forest) validate() error {
	if len(f.FeatureNames) == 0 {
		return eris.New("classifier: artifact has no feature schema")
	}
	if len(f.Defaults) != len(f.FeatureNames) {
		return eris.Errorf("classifier: %d defaults for %d features", len(f.Defaults), len(f.FeatureNames))
	}
	if len(f.Trees) == 0 {
		return eris.New("classifier: artifact has no trees")
	}
	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return eris.Errorf("classifier: tree %d is empty", ti)
		}
		for ni, n := range tree.Nodes {
			if n.Left == -1 {
				continue
			}
			if n.Left < 0 || n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
				return eris.Errorf("classifier: tree %d node %d has out-of-range children", ti, ni)
			}
			if n.Feature < 0 || n.Feature >= len(f.FeatureNames) {
				return eris.Errorf("classifier: tree %d node %d references feature %d", ti, ni, n.Feature)
			}
		}
	}
	return nil
}

// align maps a named feature vector onto the trained schema, filling
// defaults for absent features. Features the schema does not know are
// dropped. Returns ErrFeatureMismatch when nothing overlaps.
func (f *Forest) align(fv *metadata.FeatureVector) ([]float64, error) {
	byName := make(map[string]float64, fv.Len())
	for i, name := range fv.Names {
		byName[name] = fv.Values[i]
	}

	row := make([]float64, len(f.FeatureNames))
	overlap := 0
	for i, name := range f.FeatureNames {
		if v, ok := byName[name]; ok {
			row[i] = v
			overlap++
		} else {
			row[i] = f.Defaults[i]
		}
	}
	if overlap == 0 {
		return nil, ErrFeatureMismatch
	}
	return row, nil
}

// PredictProba returns P(tampered) for the feature vector, averaged over all
// trees' leaf class distributions.
func (f *Forest) PredictProba(fv *metadata.FeatureVector) (float64, error) {
	row, err := f.align(fv)
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, tree := range f.Trees {
		sum += tree.proba(row)
	}
	return sum / float64(len(f.Trees)), nil
}

// proba walks the tree to a leaf and returns the leaf's normalized weight
// for class 1.
func (t *Tree) proba(row []float64) float64 {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Left == -1 {
			total := n.Value[0] + n.Value[1]
			if total == 0 {
				return 0
			}
			return n.Value[1] / total
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}
