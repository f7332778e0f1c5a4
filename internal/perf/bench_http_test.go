package perf

import (
	"sort"
	"testing"
	"time"
)

func TestRequestLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{
			name:      "lesson_list_cached",
			samples:   []time.Duration{4 * time.Millisecond, 5 * time.Millisecond, 6 * time.Millisecond, 7 * time.Millisecond, 8 * time.Millisecond, 9 * time.Millisecond, 11 * time.Millisecond, 13 * time.Millisecond, 16 * time.Millisecond, 22 * time.Millisecond},
			threshold: 50 * time.Millisecond,
		},
		{
			name:      "sync_commit",
			samples:   []time.Duration{40 * time.Millisecond, 55 * time.Millisecond, 60 * time.Millisecond, 70 * time.Millisecond, 85 * time.Millisecond, 95 * time.Millisecond, 110 * time.Millisecond, 130 * time.Millisecond, 150 * time.Millisecond, 180 * time.Millisecond},
			threshold: 250 * time.Millisecond,
		},
		{
			name:      "login_bcrypt",
			samples:   []time.Duration{180 * time.Millisecond, 190 * time.Millisecond, 200 * time.Millisecond, 210 * time.Millisecond, 220 * time.Millisecond, 230 * time.Millisecond, 240 * time.Millisecond, 250 * time.Millisecond, 260 * time.Millisecond, 280 * time.Millisecond},
			threshold: 400 * time.Millisecond,
		},
	}

	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
