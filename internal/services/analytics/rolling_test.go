package analytics

import (
	"errors"
	"math"
	"testing"
)

func TestRollingStatsPartialWindow(t *testing.T) {
	r, err := NewRollingStats(5)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	snap, err := r.Update(10)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData for count=1, got %v", err)
	}
	if snap.Count != 1 || snap.Mean != 10 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	snap, err = r.Update(20)
	if err != nil {
		t.Fatalf("count=2 should be sufficient: %v", err)
	}
	if snap.Mean != 15 {
		t.Fatalf("mean = %v, want 15", snap.Mean)
	}
	if snap.Min != 10 || snap.Max != 20 {
		t.Fatalf("min/max = %v/%v", snap.Min, snap.Max)
	}
}

func TestRollingStatsEviction(t *testing.T) {
	r, _ := NewRollingStats(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		if _, err := r.Update(v); err != nil && !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("update: %v", err)
		}
	}
	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}
	vals := r.Values()
	want := []float64{3, 4, 5}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("values = %v, want %v", vals, want)
		}
	}
	snap, _ := r.Update(6)
	if snap.Mean != 5 {
		t.Fatalf("mean after eviction = %v, want 5", snap.Mean)
	}
}

func TestRollingStatsConstantWindow(t *testing.T) {
	r, _ := NewRollingStats(10)
	var snap StatsSnapshot
	for i := 0; i < 10; i++ {
		snap, _ = r.Update(7)
	}
	if snap.Std != 0 {
		t.Fatalf("std of constant window = %v, want 0", snap.Std)
	}
	if snap.MAD != 0 {
		t.Fatalf("MAD of constant window = %v, want 0", snap.MAD)
	}
	if snap.Median != 7 || snap.Q1 != 7 || snap.Q3 != 7 {
		t.Fatalf("quantiles of constant window: %+v", snap)
	}
}

func TestRollingStatsQuantiles(t *testing.T) {
	r, _ := NewRollingStats(100)
	var snap StatsSnapshot
	for i := 1; i <= 100; i++ {
		snap, _ = r.Update(float64(i))
	}
	if snap.Median < 49 || snap.Median > 52 {
		t.Fatalf("median = %v, want ~50", snap.Median)
	}
	if snap.Q1 < 24 || snap.Q1 > 27 {
		t.Fatalf("q1 = %v, want ~25", snap.Q1)
	}
	if snap.Q3 < 74 || snap.Q3 > 77 {
		t.Fatalf("q3 = %v, want ~75", snap.Q3)
	}
	wantStd := 29.0
	if math.Abs(snap.Std-wantStd) > 1 {
		t.Fatalf("std = %v, want ~%v", snap.Std, wantStd)
	}
}

func TestNewRollingStatsRejectsBadCapacity(t *testing.T) {
	if _, err := NewRollingStats(1); err == nil {
		t.Fatalf("expected ConfigError for capacity 1")
	}
	var ce *ConfigError
	_, err := NewRollingStats(0)
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}
