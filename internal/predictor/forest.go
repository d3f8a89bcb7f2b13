package predictor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"crewline/internal/feature"
)

var (
	// ErrNotReady means a score was requested from an absent or unready
	// snapshot. Internal to the assignment path: the orchestrator absorbs
	// it by falling back to the cold-start selector.
	ErrNotReady = errors.New("predictor not ready")

	// ErrInsufficientData means the dataset is below the minimum size.
	// The caller keeps the previous snapshot (or stays untrained).
	ErrInsufficientData = errors.New("insufficient training data")
)

// TrainError reports a structurally broken dataset (non-finite values).
type TrainError struct {
	Reason string
}

func (e *TrainError) Error() string {
	return "training failed: " + e.Reason
}

// Sample is one labeled training example.
type Sample struct {
	Features feature.Vector
	Label    float64
}

// Params control the forest fit. Zero values mean defaults.
type Params struct {
	Trees       int
	Seed        int64
	MinOutcomes int
	MaxDepth    int
	MinLeaf     int
}

const (
	DefaultTrees       = 100
	DefaultSeed        = 42
	DefaultMinOutcomes = 5
	defaultMaxDepth    = 16
	defaultMinLeaf     = 1
)

func (p Params) withDefaults() Params {
	if p.Trees <= 0 {
		p.Trees = DefaultTrees
	}
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	if p.MinOutcomes <= 0 {
		p.MinOutcomes = DefaultMinOutcomes
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = defaultMaxDepth
	}
	if p.MinLeaf <= 0 {
		p.MinLeaf = defaultMinLeaf
	}
	return p
}

// node is one split or leaf. Left/Right index into the tree's node slice;
// -1 marks a leaf and Value holds the leaf mean.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

func (t tree) predict(v feature.Vector) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if v[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Fit trains a forest of regression trees on bootstrap resamples of the
// dataset. The returned snapshot never mutates; refitting produces a new
// one. Given identical samples and params the fit is deterministic.
func Fit(samples []Sample, p Params, now time.Time) (*Snapshot, error) {
	p = p.withDefaults()
	if len(samples) < p.MinOutcomes {
		return nil, ErrInsufficientData
	}
	for i, s := range samples {
		for f, x := range s.Features {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, &TrainError{Reason: fmt.Sprintf("sample %d feature %d not finite", i, f)}
			}
		}
		if math.IsNaN(s.Label) || math.IsInf(s.Label, 0) {
			return nil, &TrainError{Reason: fmt.Sprintf("sample %d label not finite", i)}
		}
	}
	rng := rand.New(rand.NewSource(p.Seed))
	trees := make([]tree, 0, p.Trees)
	for i := 0; i < p.Trees; i++ {
		boot := bootstrap(samples, rng)
		trees = append(trees, growTree(boot, p))
	}
	return &Snapshot{
		trees:         trees,
		SchemaVersion: feature.SchemaVersion,
		DatasetSize:   len(samples),
		TrainedAt:     now.UTC(),
	}, nil
}

func bootstrap(samples []Sample, rng *rand.Rand) []Sample {
	out := make([]Sample, len(samples))
	for i := range out {
		out[i] = samples[rng.Intn(len(samples))]
	}
	return out
}

type builder struct {
	nodes []node
	p     Params
}

func growTree(samples []Sample, p Params) tree {
	b := &builder{p: p}
	b.grow(samples, 0)
	return tree{Nodes: b.nodes}
}

func (b *builder) grow(samples []Sample, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Value: meanLabel(samples)})
	if depth >= b.p.MaxDepth || len(samples) <= b.p.MinLeaf || labelsConstant(samples) {
		return idx
	}
	f, thr, ok := bestSplit(samples, b.p.MinLeaf)
	if !ok {
		return idx
	}
	var left, right []Sample
	for _, s := range samples {
		if s.Features[f] <= thr {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	// children may have grown the slice; write through the index
	b.nodes[idx] = node{Feature: f, Threshold: thr, Left: l, Right: r}
	return idx
}

// bestSplit scans every feature for the threshold minimizing the summed
// squared error of the two sides. Candidate thresholds are midpoints
// between adjacent distinct values, so the search is deterministic and
// ties resolve to the lowest feature index.
func bestSplit(samples []Sample, minLeaf int) (int, float64, bool) {
	n := len(samples)
	var total, totalSq float64
	for _, s := range samples {
		total += s.Label
		totalSq += s.Label * s.Label
	}
	best := math.Inf(1)
	bestF, bestThr := -1, 0.0
	order := make([]int, n)
	for f := 0; f < feature.Size; f++ {
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool {
			return samples[order[i]].Features[f] < samples[order[j]].Features[f]
		})
		var prefix, prefixSq float64
		for i := 0; i < n-1; i++ {
			s := samples[order[i]]
			prefix += s.Label
			prefixSq += s.Label * s.Label
			cur := s.Features[f]
			next := samples[order[i+1]].Features[f]
			if cur == next {
				continue
			}
			nl := i + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			sseL := prefixSq - prefix*prefix/float64(nl)
			rSum := total - prefix
			sseR := (totalSq - prefixSq) - rSum*rSum/float64(nr)
			if sse := sseL + sseR; sse < best-1e-12 {
				best = sse
				bestF = f
				bestThr = (cur + next) / 2
			}
		}
	}
	if bestF < 0 {
		return 0, 0, false
	}
	return bestF, bestThr, true
}

func meanLabel(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Label
	}
	return sum / float64(len(samples))
}

func labelsConstant(samples []Sample) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].Label != samples[0].Label {
			return false
		}
	}
	return true
}
