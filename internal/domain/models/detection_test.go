package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestDriftTestMarshalNonFinite(t *testing.T) {
	cases := []struct {
		name string
		in   DriftTest
		want string
	}{
		{"finite", DriftTest{Statistic: 0.25, PValue: 0.01}, `{"statistic":0.25,"p_value":0.01}`},
		{"nan p-value", DriftTest{Statistic: 0.5, PValue: math.NaN()}, `{"statistic":0.5,"p_value":null}`},
		{"inf statistic", DriftTest{Statistic: math.Inf(1), PValue: math.NaN()}, `{"statistic":null,"p_value":null}`},
		{"neg inf statistic", DriftTest{Statistic: math.Inf(-1), PValue: 1}, `{"statistic":null,"p_value":1}`},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.in)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		if string(b) != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, b, tc.want)
		}
	}
}

func TestDriftTestUnmarshalNull(t *testing.T) {
	var dt DriftTest
	if err := json.Unmarshal([]byte(`{"statistic":null,"p_value":null}`), &dt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsNaN(dt.Statistic) || !math.IsNaN(dt.PValue) {
		t.Fatalf("nulls should decode to NaN, got %+v", dt)
	}

	if err := json.Unmarshal([]byte(`{"statistic":0.3,"p_value":0.04}`), &dt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dt.Statistic != 0.3 || dt.PValue != 0.04 {
		t.Fatalf("round trip lost values: %+v", dt)
	}
}
