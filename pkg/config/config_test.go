package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
environment: test
backend:
  type: clickhouse
feed:
  symbols: ["AAPL", "MSFT"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Detection.WindowSize != 100 {
		t.Errorf("window size = %d, want 100", c.Detection.WindowSize)
	}
	if c.Detection.ZThreshold != 3.0 {
		t.Errorf("z threshold = %v, want 3.0", c.Detection.ZThreshold)
	}
	if c.Learned.Contamination != 0.1 {
		t.Errorf("contamination = %v, want 0.1", c.Learned.Contamination)
	}
	if c.Drift.VarianceBand != [2]float64{0.5, 2.0} {
		t.Errorf("variance band = %v", c.Drift.VarianceBand)
	}
	if c.Alerts.CriticalThreshold != 0.8 {
		t.Errorf("critical threshold = %v, want 0.8", c.Alerts.CriticalThreshold)
	}
	if c.Logging.Level != "info" || c.Logging.Format != "json" {
		t.Errorf("logging defaults = %s/%s", c.Logging.Level, c.Logging.Format)
	}
	if c.Kafka.AlertTopic != "streamsentinel.alerts" {
		t.Errorf("alert topic = %q", c.Kafka.AlertTopic)
	}
	if c.Queue.Workers != 2 {
		t.Errorf("queue workers = %d, want 2", c.Queue.Workers)
	}
}

func TestLoadParsesWeights(t *testing.T) {
	body := minimalYAML + `
detection:
  weights:
    zscore: 0.4
    modified_z: 0.3
    iqr: 0.2
    grubbs: 0.1
drift:
  weights:
    ks: 0.5
    psi: 0.5
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Detection.Weights["zscore"] != 0.4 || c.Detection.Weights["grubbs"] != 0.1 {
		t.Errorf("detection weights = %v", c.Detection.Weights)
	}
	if c.Drift.Weights["ks"] != 0.5 || c.Drift.Weights["psi"] != 0.5 {
		t.Errorf("drift weights = %v", c.Drift.Weights)
	}

	c, err = Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Detection.Weights != nil || c.Drift.Weights != nil {
		t.Errorf("absent weights should stay nil: %v %v", c.Detection.Weights, c.Drift.Weights)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing environment", `
backend:
  type: kafka
feed:
  symbols: ["AAPL"]
`},
		{"bad backend", `
environment: test
backend:
  type: postgres
feed:
  symbols: ["AAPL"]
`},
		{"no symbols", `
environment: test
backend:
  type: kafka
`},
		{"window too small", `
environment: test
backend:
  type: kafka
feed:
  symbols: ["AAPL"]
detection:
  window_size: 1
`},
		{"contamination out of range", `
environment: test
backend:
  type: kafka
feed:
  symbols: ["AAPL"]
learned:
  contamination: 0.7
`},
		{"inverted variance band", `
environment: test
backend:
  type: kafka
feed:
  symbols: ["AAPL"]
drift:
  variance_band: [2.0, 0.5]
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND", "kafka")
	t.Setenv("SYMBOLS", "TSLA,NVDA")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")

	c, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend.Type != "kafka" {
		t.Errorf("backend = %q, want kafka", c.Backend.Type)
	}
	if len(c.Feed.Symbols) != 2 || c.Feed.Symbols[0] != "TSLA" {
		t.Errorf("symbols = %v", c.Feed.Symbols)
	}
	if len(c.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", c.Kafka.Brokers)
	}
}
