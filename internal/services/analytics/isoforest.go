package analytics

import (
	"math"
	"math/rand"
)

// isolationForest is a univariate isolation forest: anomalies isolate in few
// random splits, so short average path lengths mean high scores. Scores follow
// the standard 2^(-E[h]/c(n)) normalization and live in (0,1).
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
	threshold  float64 // score threshold derived from contamination at fit
}

type isoNode struct {
	split       float64
	left, right *isoNode
	size        int // external node: size of the isolated partition
}

const (
	isoTrees      = 100
	isoSampleSize = 256
	eulerGamma    = 0.5772156649015329
)

// avgPathLength is c(n), the average unsuccessful-search path length of a BST.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	f := float64(n)
	return 2*(math.Log(f-1)+eulerGamma) - 2*(f-1)/f
}

func buildIsoTree(values []float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(values) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(values)}
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{size: len(values)}
	}
	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &isoNode{
		split: split,
		left:  buildIsoTree(left, depth+1, maxDepth, rng),
		right: buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

func (n *isoNode) pathLength(v float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if v < n.split {
		return n.left.pathLength(v, depth+1)
	}
	return n.right.pathLength(v, depth+1)
}

// fitIsolationForest trains the forest on values with a fixed seed so repeated
// fits over the same data yield the same model.
func fitIsolationForest(values []float64, contamination float64, seed int64) *isolationForest {
	rng := rand.New(rand.NewSource(seed))
	sample := isoSampleSize
	if sample > len(values) {
		sample = len(values)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))

	f := &isolationForest{sampleSize: sample}
	for i := 0; i < isoTrees; i++ {
		sub := make([]float64, sample)
		for j := range sub {
			sub[j] = values[rng.Intn(len(values))]
		}
		f.trees = append(f.trees, buildIsoTree(sub, 0, maxDepth, rng))
	}

	scores := make([]float64, len(values))
	for i, v := range values {
		scores[i] = f.score(v)
	}
	f.threshold = quantileOf(scores, 1-contamination)
	return f
}

func (f *isolationForest) score(v float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += t.pathLength(v, 0)
	}
	mean := sum / float64(len(f.trees))
	c := avgPathLength(f.sampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}
