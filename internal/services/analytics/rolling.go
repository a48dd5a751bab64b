package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StatsSnapshot captures the sufficient statistics of a trailing window at a
// point in time. Count may be below capacity while the window is filling.
type StatsSnapshot struct {
	Mean   float64
	Std    float64
	Median float64
	Q1     float64
	Q3     float64
	MAD    float64 // median absolute deviation
	Min    float64
	Max    float64
	Count  int
}

// IQR is the interquartile range of the snapshot.
func (s StatsSnapshot) IQR() float64 { return s.Q3 - s.Q1 }

// RollingStats maintains statistics over a bounded trailing window using a
// fixed-capacity ring buffer with running sum and sum of squares. Update is
// O(N log N) in the window size due to quantile computation on a scratch
// copy; the arithmetic moments are O(1).
type RollingStats struct {
	capacity int
	values   []float64
	scratch  []float64
	idx      int
	count    int
	sum      float64
	sumSq    float64
}

// NewRollingStats creates a rolling window of the given capacity.
func NewRollingStats(capacity int) (*RollingStats, error) {
	if capacity < 2 {
		return nil, &ConfigError{Field: "window_size", Reason: "must be at least 2"}
	}
	return &RollingStats{
		capacity: capacity,
		values:   make([]float64, capacity),
		scratch:  make([]float64, 0, capacity),
	}, nil
}

// Update appends a value, evicting the oldest when the window is full, and
// returns the snapshot over whatever is present. It returns
// ErrInsufficientData alongside a partially-filled snapshot while count < 2;
// variance-dependent scores are undefined in that case and callers must treat
// them as neutral.
func (r *RollingStats) Update(v float64) (StatsSnapshot, error) {
	if r.count == r.capacity {
		old := r.values[r.idx]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.count++
	}
	r.values[r.idx] = v
	r.sum += v
	r.sumSq += v * v
	r.idx = (r.idx + 1) % r.capacity

	return r.snapshot()
}

// Count reports how many values the window currently holds.
func (r *RollingStats) Count() int { return r.count }

// Values returns the window contents in arrival order.
func (r *RollingStats) Values() []float64 {
	out := make([]float64, 0, r.count)
	start := r.idx - r.count
	for i := 0; i < r.count; i++ {
		out = append(out, r.values[((start+i)%r.capacity+r.capacity)%r.capacity])
	}
	return out
}

func (r *RollingStats) snapshot() (StatsSnapshot, error) {
	n := r.count
	snap := StatsSnapshot{Count: n}
	if n == 0 {
		return snap, ErrInsufficientData
	}

	mean := r.sum / float64(n)
	snap.Mean = mean

	r.scratch = r.scratch[:0]
	for i := 0; i < n; i++ {
		r.scratch = append(r.scratch, r.values[i])
	}
	sort.Float64s(r.scratch)

	snap.Min = r.scratch[0]
	snap.Max = r.scratch[n-1]
	snap.Median = stat.Quantile(0.5, stat.Empirical, r.scratch, nil)
	snap.Q1 = stat.Quantile(0.25, stat.Empirical, r.scratch, nil)
	snap.Q3 = stat.Quantile(0.75, stat.Empirical, r.scratch, nil)
	snap.MAD = medianAbsDev(r.scratch, snap.Median)

	if n < 2 {
		return snap, ErrInsufficientData
	}
	variance := (r.sumSq - r.sum*r.sum/float64(n)) / float64(n-1)
	if variance < 0 {
		variance = 0 // running sums can go slightly negative near zero variance
	}
	snap.Std = math.Sqrt(variance)
	return snap, nil
}

// medianAbsDev computes the median of |x - med| from a sorted sample.
func medianAbsDev(sorted []float64, med float64) float64 {
	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	return stat.Quantile(0.5, stat.Empirical, dev, nil)
}
