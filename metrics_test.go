package goAuthTree

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricJourneyStarted)
	m.Observe(MetricStepLatency, time.Millisecond)
	if m.Value(MetricJourneyStarted) != 0 {
		t.Fatal("disabled metrics counted")
	}
	if s := m.Snapshot(); len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricNodeAdvance)
			}
		}()
	}
	wg.Wait()
	if got := m.Snapshot().Counters[MetricNodeAdvance]; got != 8000 {
		t.Fatalf("counter = %d", got)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, d := range []time.Duration{time.Millisecond, 7 * time.Millisecond, 300 * time.Millisecond, 2 * time.Second} {
		m.Observe(MetricStepLatency, d)
	}
	m.Observe(MetricNodeAdvance, time.Millisecond)

	s := m.Snapshot()
	got := s.Histograms[MetricStepLatency]
	want := []uint64{1, 1, 0, 0, 0, 0, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buckets = %v, want %v", got, want)
		}
	}
	if _, ok := s.Histograms[MetricNodeAdvance]; ok {
		t.Fatal("only step latency has a histogram")
	}
	if _, ok := s.Counters[MetricStepLatency]; ok {
		t.Fatal("histogram id must not appear as a counter")
	}
}
