package alerts

import (
	"fmt"
	"testing"

	"StreamSentinel/internal/domain/models"
)

func TestSeverityClassification(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  models.Severity
	}{
		{0.0, models.SeverityInfo},
		{0.49, models.SeverityInfo},
		{0.5, models.SeverityWarning},
		{0.79, models.SeverityWarning},
		{0.8, models.SeverityCritical},
		{1.0, models.SeverityCritical},
	}
	for _, tc := range cases {
		if got := th.Severity(tc.score); got != tc.want {
			t.Fatalf("Severity(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestManagerRecentOrderAndEviction(t *testing.T) {
	m := NewManager(DefaultThresholds(), 3)
	for i := 1; i <= 5; i++ {
		m.Add("BTCUSDT", "ensemble", fmt.Sprintf("alert %d", i), 0.9)
	}

	recent := m.Recent(10, "")
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained alerts, got %d", len(recent))
	}
	for i, want := range []string{"alert 5", "alert 4", "alert 3"} {
		if recent[i].Message != want {
			t.Fatalf("recent[%d].Message = %q, want %q", i, recent[i].Message, want)
		}
	}
}

func TestManagerRecentSeverityFilter(t *testing.T) {
	m := NewManager(DefaultThresholds(), 10)
	m.Add("ETHUSDT", "ensemble", "low", 0.1)
	m.Add("ETHUSDT", "drift", "mid", 0.6)
	m.Add("ETHUSDT", "ensemble", "high", 0.95)

	critical := m.Recent(10, models.SeverityCritical)
	if len(critical) != 1 || critical[0].Message != "high" {
		t.Fatalf("critical filter returned %+v", critical)
	}
	warning := m.Recent(10, models.SeverityWarning)
	if len(warning) != 1 || warning[0].Message != "mid" {
		t.Fatalf("warning filter returned %+v", warning)
	}
	all := m.Recent(2, "")
	if len(all) != 2 {
		t.Fatalf("limit ignored, got %d alerts", len(all))
	}
}

func TestManagerSummaryCountsSurviveEviction(t *testing.T) {
	m := NewManager(DefaultThresholds(), 2)
	for i := 0; i < 4; i++ {
		m.Add("SOLUSDT", "ensemble", "e", 0.9)
	}
	m.Add("SOLUSDT", "regime_transition", "r", 0.3)

	summary := m.Summary()
	if summary["ensemble"] != 4 {
		t.Fatalf("ensemble count = %d, want 4 despite eviction", summary["ensemble"])
	}
	if summary["regime_transition"] != 1 {
		t.Fatalf("regime_transition count = %d, want 1", summary["regime_transition"])
	}

	// Summary returns a copy.
	summary["ensemble"] = 0
	if m.Summary()["ensemble"] != 4 {
		t.Fatal("mutating the returned summary leaked into the manager")
	}
}

func TestManagerAddClassifiesSeverity(t *testing.T) {
	m := NewManager(DefaultThresholds(), 5)
	a := m.Add("BTCUSDT", "drift", "distribution moved", 0.85)
	if a.Severity != models.SeverityCritical {
		t.Fatalf("severity = %q, want critical", a.Severity)
	}
	if a.Symbol != "BTCUSDT" || a.Type != "drift" || a.Score != 0.85 {
		t.Fatalf("alert fields not carried through: %+v", a)
	}
	if a.Timestamp.IsZero() {
		t.Fatal("alert timestamp not set")
	}
}
