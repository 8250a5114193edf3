package trainer

import (
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
)

// StratifiedSplit partitions the dataset into train and test sets, shuffling
// within each class so the label ratio is preserved on both sides. testFrac
// is the held-out fraction (0.2 for an 80/20 split).
func StratifiedSplit(ds *Dataset, testFrac float64, seed uint64) (train, test *Dataset, err error) {
	if testFrac <= 0 || testFrac >= 1 {
		return nil, nil, eris.Errorf("trainer: test fraction %.2f out of range (0,1)", testFrac)
	}

	byClass := map[int][]int{}
	for i, y := range ds.Y {
		byClass[y] = append(byClass[y], i)
	}
	if len(byClass) < 2 {
		return nil, nil, eris.New("trainer: dataset contains a single class, cannot stratify")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var trainIdx, testIdx []int
	// Iterate classes in a fixed order so the split is reproducible.
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	for _, c := range classes {
		indices := byClass[c]
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		nTest := int(float64(len(indices)) * testFrac)
		if nTest == 0 && len(indices) > 1 {
			nTest = 1
		}
		testIdx = append(testIdx, indices[:nTest]...)
		trainIdx = append(trainIdx, indices[nTest:]...)
	}

	return subset(ds, trainIdx), subset(ds, testIdx), nil
}

func subset(ds *Dataset, indices []int) *Dataset {
	out := &Dataset{Features: ds.Features}
	for _, i := range indices {
		out.X = append(out.X, ds.X[i])
		out.Y = append(out.Y, ds.Y[i])
	}
	return out
}
