package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"StreamSentinel/internal/domain/models"
)

type fakeProc struct {
	mu   sync.Mutex
	seen []*models.Observation
	fail bool
}

func (f *fakeProc) Process(_ context.Context, o *models.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("downstream unavailable")
	}
	f.seen = append(f.seen, o)
	return nil
}

func (f *fakeProc) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: make(map[string]int)}
}

func (m *fakeMetrics) RecordObservation(string)            {}
func (m *fakeMetrics) RecordAnomaly(string, string)        {}
func (m *fakeMetrics) RecordDriftScore(string, float64)    {}
func (m *fakeMetrics) RecordRegime(string, string)         {}
func (m *fakeMetrics) RecordFitDuration(string, float64)   {}
func (m *fakeMetrics) RecordLastValue(string, float64)     {}
func (m *fakeMetrics) RecordLatency(string, float64)       {}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func obs(symbol string, v float64) *models.Observation {
	return &models.Observation{Symbol: symbol, Timestamp: time.Now(), Value: v}
}

func TestValidateObservation(t *testing.T) {
	cases := []struct {
		name string
		o    *models.Observation
	}{
		{"nil", nil},
		{"empty symbol", obs("", 1)},
		{"zero timestamp", &models.Observation{Symbol: "AAPL", Value: 1}},
		{"nan", obs("AAPL", math.NaN())},
		{"+inf", obs("AAPL", math.Inf(1))},
		{"-inf", obs("AAPL", math.Inf(-1))},
	}
	for _, tc := range cases {
		if err := ValidateObservation(tc.o); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
	if err := ValidateObservation(obs("AAPL", 101.5)); err != nil {
		t.Fatalf("valid observation rejected: %v", err)
	}
}

func TestPipelineRejectsInvalid(t *testing.T) {
	proc := &fakeProc{}
	m := newFakeMetrics()
	p := NewRealtimePipeline(proc, m)

	if err := p.Process(context.Background(), obs("AAPL", math.NaN())); err == nil {
		t.Fatalf("expected error for NaN value")
	}
	if proc.count() != 0 {
		t.Fatalf("invalid observation reached downstream")
	}
	if m.errorCount("pipeline_validate") != 1 {
		t.Fatalf("expected validation error metric")
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &fakeProc{}
	m := newFakeMetrics()
	p := NewRealtimePipeline(proc, m, WithMaxRPS(1))

	if err := p.Process(context.Background(), obs("AAPL", 1)); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	// second observation on the same symbol within the throttle interval
	if err := p.Process(context.Background(), obs("AAPL", 2)); err != nil {
		t.Fatalf("throttled observation should drop without error, got %v", err)
	}
	// a different symbol is not throttled
	if err := p.Process(context.Background(), obs("MSFT", 3)); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
	if got := proc.count(); got != 2 {
		t.Fatalf("expected 2 processed, got %d", got)
	}
	if m.errorCount("pipeline_throttle") != 1 {
		t.Fatalf("expected one throttle record")
	}
}

func TestPipelineBuffersOnDownstreamError(t *testing.T) {
	proc := &fakeProc{fail: true}
	m := newFakeMetrics()
	p := NewRealtimePipeline(proc, m, WithMaxRPS(1000), WithBufferSize(4))

	if err := p.Process(context.Background(), obs("AAPL", 1)); err == nil {
		t.Fatalf("expected downstream error")
	}
	if m.errorCount("pipeline_process") != 1 {
		t.Fatalf("expected process error metric")
	}

	// downstream recovers; the flush goroutine should drain the buffer
	proc.mu.Lock()
	proc.fail = false
	proc.mu.Unlock()

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffered observation never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelineTransformAppliesBeforeValidation(t *testing.T) {
	proc := &fakeProc{}
	m := newFakeMetrics()
	p := NewRealtimePipeline(proc, m, WithTransform(func(o *models.Observation) *models.Observation {
		if o != nil && o.Timestamp.IsZero() {
			o.Timestamp = time.Now()
		}
		return o
	}))

	if err := p.Process(context.Background(), &models.Observation{Symbol: "AAPL", Value: 5}); err != nil {
		t.Fatalf("transform should have repaired timestamp: %v", err)
	}
	if proc.count() != 1 {
		t.Fatalf("expected observation downstream")
	}
}
