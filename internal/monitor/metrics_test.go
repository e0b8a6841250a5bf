package monitor

import (
	"math/rand"
	"testing"
	"time"
)

func TestPercentileClampSmallWindow(t *testing.T) {
	if got := percentile([]float64{0.5}, 0.95); got != 0.5 {
		t.Fatalf("single sample p95 = %f, want 0.5", got)
	}
	if got := percentile(nil, 0.95); got != 0 {
		t.Fatalf("empty window p95 = %f, want 0", got)
	}
}

func TestP95AtLeastMean(t *testing.T) {
	w := newModelWindow(1000)
	r := rand.New(rand.NewSource(7))
	now := time.Now()
	for i := 0; i < 500; i++ {
		w.record(sample{at: now.Add(time.Duration(i) * time.Millisecond), latency: r.Float64()})
	}
	st := w.stats()
	if st.P95Latency < st.AvgLatency {
		t.Fatalf("p95 %f < mean %f", st.P95Latency, st.AvgLatency)
	}
}

func TestWindowBoundAndTotals(t *testing.T) {
	w := newModelWindow(10)
	now := time.Now()
	for i := 0; i < 25; i++ {
		w.record(sample{at: now, latency: 0.01, err: i%5 == 0})
	}
	if len(w.samples) != 10 {
		t.Fatalf("window should cap at 10, got %d", len(w.samples))
	}
	st := w.stats()
	if st.Requests != 25 {
		t.Fatalf("total requests should survive eviction, got %d", st.Requests)
	}
	if st.Errors != 5 {
		t.Fatalf("expected 5 errors, got %d", st.Errors)
	}
}

func TestThroughputFloorsDenominator(t *testing.T) {
	w := newModelWindow(100)
	now := time.Now()
	// All samples within a few ms: denominator must floor at 1 second.
	for i := 0; i < 10; i++ {
		w.record(sample{at: now.Add(time.Duration(i) * time.Millisecond), latency: 0.001})
	}
	st := w.stats()
	if st.Throughput > 10 {
		t.Fatalf("throughput %f exceeds sample count, denominator not floored", st.Throughput)
	}
}

func TestCacheHitRate(t *testing.T) {
	w := newModelWindow(100)
	now := time.Now()
	for i := 0; i < 4; i++ {
		w.record(sample{at: now, latency: 0.01, cacheHit: i%2 == 0})
	}
	st := w.stats()
	if st.CacheHitRate != 0.5 {
		t.Fatalf("cache hit rate = %f, want 0.5", st.CacheHitRate)
	}
}
