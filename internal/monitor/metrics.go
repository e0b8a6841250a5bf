package monitor

import (
	"math"
	"sort"
	"time"

	"inferd/pkg/types"
)

const defaultWindowSize = 1000

// sample is one observed request.
type sample struct {
	at       time.Time
	latency  float64 // seconds
	err      bool
	cacheHit bool
}

// modelWindow holds the bounded recent history plus monotonic totals for
// one model. Not safe for concurrent use; the Monitor serializes access.
type modelWindow struct {
	samples []sample
	max     int

	totalRequests int64
	totalErrors   int64
	totalLatency  float64
	totalHits     int64
}

func newModelWindow(max int) *modelWindow {
	if max <= 0 {
		max = defaultWindowSize
	}
	return &modelWindow{samples: make([]sample, 0, max), max: max}
}

func (w *modelWindow) record(s sample) {
	w.totalRequests++
	w.totalLatency += s.latency
	if s.err {
		w.totalErrors++
	}
	if s.cacheHit {
		w.totalHits++
	}
	if len(w.samples) == w.max {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.max-1]
	}
	w.samples = append(w.samples, s)
}

func (w *modelWindow) stats() types.ModelStats {
	st := types.ModelStats{
		Requests:  w.totalRequests,
		Errors:    w.totalErrors,
		CacheHits: w.totalHits,
	}
	if w.totalRequests > 0 {
		st.ErrorRate = float64(w.totalErrors) / float64(w.totalRequests)
		st.CacheHitRate = float64(w.totalHits) / float64(w.totalRequests)
		st.AvgLatency = w.totalLatency / float64(w.totalRequests)
	}
	n := len(w.samples)
	if n == 0 {
		return st
	}
	lat := make([]float64, n)
	for i, s := range w.samples {
		lat[i] = s.latency
	}
	st.P95Latency = percentile(lat, 0.95)

	span := w.samples[n-1].at.Sub(w.samples[0].at).Seconds()
	if span < 1 {
		span = 1
	}
	st.Throughput = float64(n) / span
	return st
}

// windowErrorRate is the error fraction over the bounded window only,
// which is what threshold alerting keys on.
func (w *modelWindow) windowErrorRate() float64 {
	n := len(w.samples)
	if n == 0 {
		return 0
	}
	errs := 0
	for _, s := range w.samples {
		if s.err {
			errs++
		}
	}
	return float64(errs) / float64(n)
}

// percentile sorts a copy of data and returns the value at
// floor(p*n), clamped to the last element for small windows.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// boundedFloats is a fixed-capacity rolling window of float values, used
// for resource samples and drift scores.
type boundedFloats struct {
	values []float64
	max    int
}

func newBoundedFloats(max int) *boundedFloats {
	return &boundedFloats{values: make([]float64, 0, max), max: max}
}

func (b *boundedFloats) push(v float64) {
	if len(b.values) == b.max {
		copy(b.values, b.values[1:])
		b.values = b.values[:b.max-1]
	}
	b.values = append(b.values, v)
}

func (b *boundedFloats) last() float64 {
	if len(b.values) == 0 {
		return 0
	}
	return b.values[len(b.values)-1]
}

func (b *boundedFloats) tailMean(n int) float64 {
	if len(b.values) == 0 {
		return 0
	}
	if n > len(b.values) {
		n = len(b.values)
	}
	sum := 0.0
	for _, v := range b.values[len(b.values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
