package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/features"
)

// Params configure training and prediction.
type Params struct {
	Trees            int     // ensemble size
	Seed             uint64  // random seed; identical seed + data gives an identical model
	MinSamples       int     // minimum viable training set size
	MaxDepth         int     // 0 = grow until pure or MinLeaf
	MinLeaf          int     // minimum samples per leaf
	FeaturesPerSplit int     // 0 = floor(sqrt(p))
	BagFraction      float64 // bootstrap size as a fraction of the training set
	VoteThreshold    float64 // water when the vote fraction exceeds this
}

// DefaultParams returns the reference configuration.
func DefaultParams() Params {
	return Params{
		Trees:         500,
		Seed:          42,
		MinSamples:    10,
		MinLeaf:       1,
		BagFraction:   0.5,
		VoteThreshold: 0.5,
	}
}

// Node is one tree node. Leaves carry Class; internal nodes route
// x[Feature] <= Threshold to Left and the rest to Right.
type Node struct {
	Leaf      bool
	Class     int
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
}

// Tree is a flat, root-first node list.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predict(x []float64) int {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Class
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Model is a fitted ensemble bound to one schema and the label domain {0,1}.
type Model struct {
	ID        string
	Schema    features.Schema
	Trees     []Tree
	Params    Params
	NWater    int
	NNonWater int
}

// Train fits a model on vectors labeled y. Every vector must carry schema
// exactly. Too few samples or a missing class is an ErrInput.
func Train(ctx context.Context, schema features.Schema, vectors []features.Vector, y []int, p Params) (*Model, error) {
	if len(schema) == 0 {
		return nil, raster.Inputf("empty predictor schema")
	}
	if len(vectors) != len(y) {
		return nil, raster.Inputf("%d vectors but %d labels", len(vectors), len(y))
	}
	if p.Trees < 1 {
		return nil, raster.Inputf("ensemble size must be at least 1, got %d", p.Trees)
	}
	if need := max(p.MinSamples, 1); len(vectors) < need {
		return nil, raster.Inputf("training set has %d samples, need at least %d", len(vectors), need)
	}
	X := make([][]float64, len(vectors))
	var nWater, nDry int
	for i, v := range vectors {
		if err := checkSchema(schema, v); err != nil {
			return nil, err
		}
		for _, f := range v.Values {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, raster.Inputf("training sample %d has non-finite value", i)
			}
		}
		X[i] = v.Values
		switch y[i] {
		case 1:
			nWater++
		case 0:
			nDry++
		default:
			return nil, raster.Inputf("training label %d at sample %d, want 0 or 1", y[i], i)
		}
	}
	if nWater == 0 || nDry == 0 {
		return nil, raster.Inputf("training set has %d water and %d non-water samples, need both classes", nWater, nDry)
	}

	mtry := p.FeaturesPerSplit
	if mtry <= 0 {
		mtry = int(math.Floor(math.Sqrt(float64(len(schema)))))
	}
	mtry = min(max(mtry, 1), len(schema))
	bag := p.BagFraction
	if bag <= 0 || bag > 1 {
		bag = 1
	}
	nBag := max(int(math.Round(bag*float64(len(X)))), 1)
	minLeaf := max(p.MinLeaf, 1)

	trees := make([]Tree, p.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(p.Seed, uint64(t)))
			idx := make([]int, nBag)
			for i := range idx {
				idx[i] = rng.IntN(len(X))
			}
			b := builder{X: X, y: y, rng: rng, mtry: mtry, minLeaf: minLeaf, maxDepth: p.MaxDepth, nFeat: len(schema)}
			b.grow(idx, 0)
			trees[t] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Model{
		ID:        uuid.New().String(),
		Schema:    slices.Clone(schema),
		Trees:     trees,
		Params:    p,
		NWater:    nWater,
		NNonWater: nDry,
	}, nil
}

type builder struct {
	X        [][]float64
	y        []int
	rng      *rand.Rand
	mtry     int
	minLeaf  int
	maxDepth int
	nFeat    int
	nodes    []Node
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int32 {
	me := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{})

	n1 := 0
	for _, i := range idx {
		n1 += b.y[i]
	}
	n0 := len(idx) - n1
	leaf := Node{Leaf: true}
	if n1 > n0 {
		leaf.Class = 1
	}
	if n0 == 0 || n1 == 0 || len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		b.nodes[me] = leaf
		return me
	}

	feat, thr, ok := b.bestSplit(idx, n0, n1)
	if !ok {
		b.nodes[me] = leaf
		return me
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[me] = Node{Feature: feat, Threshold: thr, Left: l, Right: r}
	return me
}

// bestSplit searches mtry random features for the threshold with the
// largest Gini impurity decrease. When none of them splits the node, the
// search continues through the remaining features in random order.
// Thresholds are midpoints between consecutive distinct values.
func (b *builder) bestSplit(idx []int, n0, n1 int) (int, float64, bool) {
	n := float64(len(idx))
	parent := gini(float64(n0), float64(n1))
	bestGain, bestFeat, bestThr := 1e-12, -1, 0.0

	order := make([]int, len(idx))
	for tried, f := range b.rng.Perm(b.nFeat) {
		if tried >= b.mtry && bestFeat >= 0 {
			break
		}
		copy(order, idx)
		slices.SortFunc(order, func(a, c int) int {
			switch va, vc := b.X[a][f], b.X[c][f]; {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return a - c
		})
		var l0, l1 float64
		for k := 0; k < len(order)-1; k++ {
			if b.y[order[k]] == 1 {
				l1++
			} else {
				l0++
			}
			lo, hi := b.X[order[k]][f], b.X[order[k+1]][f]
			if lo == hi {
				continue
			}
			nl := float64(k + 1)
			if int(nl) < b.minLeaf || len(order)-int(nl) < b.minLeaf {
				continue
			}
			r0, r1 := float64(n0)-l0, float64(n1)-l1
			child := (nl*gini(l0, l1) + (n-nl)*gini(r0, r1)) / n
			if gain := parent - child; gain > bestGain {
				bestGain, bestFeat, bestThr = gain, f, lo+(hi-lo)/2
			}
		}
	}
	return bestFeat, bestThr, bestFeat >= 0
}

func gini(c0, c1 float64) float64 {
	t := c0 + c1
	if t == 0 {
		return 0
	}
	p0, p1 := c0/t, c1/t
	return 1 - p0*p0 - p1*p1
}

func checkSchema(schema features.Schema, v features.Vector) error {
	if !schema.Equal(v.Schema) {
		return raster.Inputf("feature schema %v does not match model schema %v", v.Schema, schema)
	}
	if len(v.Values) != len(schema) {
		return raster.Inputf("feature vector has %d values, schema has %d", len(v.Values), len(schema))
	}
	return nil
}

// PredictProba returns the fraction of trees voting water.
func (m *Model) PredictProba(v features.Vector) (float64, error) {
	if err := checkSchema(m.Schema, v); err != nil {
		return 0, err
	}
	return m.votes(v.Values), nil
}

func (m *Model) votes(x []float64) float64 {
	w := 0
	for i := range m.Trees {
		w += m.Trees[i].predict(x)
	}
	return float64(w) / float64(len(m.Trees))
}

// Predict returns 1 (water) when the vote fraction exceeds the model's
// vote threshold, else 0. An exact tie resolves to 0.
func (m *Model) Predict(v features.Vector) (int, error) {
	p, err := m.PredictProba(v)
	if err != nil {
		return 0, err
	}
	if p > m.Params.VoteThreshold {
		return 1, nil
	}
	return 0, nil
}
