package trainer

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"runtime"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/metatrace/metascan/internal/classifier"
)

// Config controls forest fitting.
type Config struct {
	Trees        int     `yaml:"trees"`
	MaxDepth     int     `yaml:"max_depth"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         uint64  `yaml:"seed"`
	Workers      int     `yaml:"workers"`
}

// DefaultConfig mirrors the production training job: 200 trees, depth 10,
// 80/20 split.
func DefaultConfig() Config {
	return Config{
		Trees:        200,
		MaxDepth:     10,
		TestFraction: 0.2,
		Seed:         42,
		Workers:      runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads a training config from a YAML file, falling back to
// defaults for unset values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "trainer: read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "trainer: parse config %s", path)
	}
	if cfg.Trees <= 0 || cfg.MaxDepth <= 0 {
		return cfg, eris.New("trainer: trees and max_depth must be positive")
	}
	return cfg, nil
}

// Fit trains a random forest on the dataset. Trees are grown concurrently;
// each derives its own seeded rng stream, so the result is deterministic for
// a given config regardless of scheduling. Class weights are balanced
// (n / (2 * count_c)) so the rare tampered class is not drowned out.
func Fit(ctx context.Context, ds *Dataset, cfg Config) (*classifier.Forest, error) {
	if ds.Len() == 0 {
		return nil, eris.New("trainer: empty dataset")
	}

	var counts [2]int
	for _, y := range ds.Y {
		counts[y]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return nil, eris.New("trainer: both classes must be present to fit")
	}

	n := float64(ds.Len())
	weights := [2]float64{n / (2 * float64(counts[0])), n / (2 * float64(counts[1]))}
	mtry := int(math.Max(1, math.Round(math.Sqrt(float64(len(ds.Features))))))

	zap.L().Info("trainer: fitting forest",
		zap.Int("rows", ds.Len()),
		zap.Int("features", len(ds.Features)),
		zap.Int("trees", cfg.Trees),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Float64("tampered_weight", weights[1]),
	)

	trees := make([]classifier.Tree, cfg.Trees)
	g, gCtx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i := range trees {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
			trees[i] = growTree(ds, weights, cfg.MaxDepth, mtry, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "trainer: fit")
	}

	return &classifier.Forest{
		Version:      1,
		FeatureNames: append([]string(nil), ds.Features...),
		Defaults:     columnMedians(ds),
		Trees:        trees,
	}, nil
}

// Save serializes the fitted forest to the artifact path the classifier
// loads.
func Save(f *classifier.Forest, path string) error {
	data, err := json.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "trainer: marshal artifact")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "trainer: write artifact %s", path)
	}
	zap.L().Info("trainer: artifact saved",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// columnMedians are stored as the artifact's per-feature defaults for
// requests missing a schema feature.
func columnMedians(ds *Dataset) []float64 {
	medians := make([]float64, len(ds.Features))
	col := make([]float64, ds.Len())
	for j := range ds.Features {
		for i, row := range ds.X {
			col[i] = row[j]
		}
		sort.Float64s(col)
		mid := len(col) / 2
		if len(col)%2 == 1 {
			medians[j] = col[mid]
		} else {
			medians[j] = (col[mid-1] + col[mid]) / 2
		}
	}
	return medians
}

type treeBuilder struct {
	ds       *Dataset
	weights  [2]float64
	maxDepth int
	mtry     int
	rng      *rand.Rand
	nodes    []classifier.Node
}

// growTree fits one tree on a bootstrap sample of the dataset.
func growTree(ds *Dataset, weights [2]float64, maxDepth, mtry int, rng *rand.Rand) classifier.Tree {
	rows := make([]int, ds.Len())
	for i := range rows {
		rows[i] = rng.IntN(ds.Len())
	}

	b := &treeBuilder{
		ds:       ds,
		weights:  weights,
		maxDepth: maxDepth,
		mtry:     mtry,
		rng:      rng,
	}
	b.build(rows, 0)
	return classifier.Tree{Nodes: b.nodes}
}

// build grows the subtree for rows and returns its node index.
func (b *treeBuilder) build(rows []int, depth int) int {
	w := b.classTotals(rows)

	if depth >= b.maxDepth || len(rows) < 2 || w[0] == 0 || w[1] == 0 {
		return b.leaf(w)
	}

	feature, threshold, ok := b.bestSplit(rows, w)
	if !ok {
		return b.leaf(w)
	}

	var left, right []int
	for _, r := range rows {
		if b.ds.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, classifier.Node{Feature: feature, Threshold: threshold})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

func (b *treeBuilder) leaf(w [2]float64) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, classifier.Node{Left: -1, Right: -1, Value: w})
	return idx
}

func (b *treeBuilder) classTotals(rows []int) [2]float64 {
	var w [2]float64
	for _, r := range rows {
		w[b.ds.Y[r]] += b.weights[b.ds.Y[r]]
	}
	return w
}

// bestSplit searches a random subset of sqrt(d) features for the threshold
// with the largest weighted Gini decrease.
func (b *treeBuilder) bestSplit(rows []int, parent [2]float64) (int, float64, bool) {
	parentImpurity := gini(parent)
	if parentImpurity == 0 {
		return 0, 0, false
	}
	total := parent[0] + parent[1]

	bestFeature, bestThreshold := -1, 0.0
	bestScore := parentImpurity

	for _, f := range b.sampleFeatures() {
		sorted := append([]int(nil), rows...)
		sort.Slice(sorted, func(i, j int) bool {
			return b.ds.X[sorted[i]][f] < b.ds.X[sorted[j]][f]
		})

		var left [2]float64
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			left[b.ds.Y[r]] += b.weights[b.ds.Y[r]]

			v, next := b.ds.X[r][f], b.ds.X[sorted[i+1]][f]
			if v == next {
				continue
			}

			right := [2]float64{parent[0] - left[0], parent[1] - left[1]}
			wl, wr := left[0]+left[1], right[0]+right[1]
			score := (wl*gini(left) + wr*gini(right)) / total
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = (v + next) / 2
			}
		}
	}

	if bestFeature == -1 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// sampleFeatures picks mtry distinct feature indices.
func (b *treeBuilder) sampleFeatures() []int {
	d := len(b.ds.Features)
	perm := b.rng.Perm(d)
	if b.mtry < d {
		perm = perm[:b.mtry]
	}
	return perm
}

// gini computes weighted Gini impurity for a two-class weight pair.
func gini(w [2]float64) float64 {
	total := w[0] + w[1]
	if total == 0 {
		return 0
	}
	p0, p1 := w[0]/total, w[1]/total
	return 1 - p0*p0 - p1*p1
}
