package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	defaultDriftWindow = 100
	driftScoreHistory  = 100
	driftScoreTail     = 10
)

// featureStats summarizes one numeric feature of the reference
// distribution. Set once from the baseline and never mutated.
type featureStats struct {
	mean   float64
	std    float64
	min    float64
	max    float64
	median float64
}

// DriftDetector compares the rolling distribution of recent inputs
// against a fixed reference baseline, one detector per model.
type DriftDetector struct {
	ref       map[string]featureStats
	window    []map[string]float64
	windowMax int
	scores    *boundedFloats
	threshold float64
}

func NewDriftDetector(threshold float64, windowSize int) *DriftDetector {
	if windowSize <= 0 {
		windowSize = defaultDriftWindow
	}
	return &DriftDetector{
		windowMax: windowSize,
		scores:    newBoundedFloats(driftScoreHistory),
		threshold: threshold,
	}
}

// SetReference fixes the baseline statistics from a sample set. Features
// missing from individual samples are skipped for those samples.
func (d *DriftDetector) SetReference(samples []map[string]float64) {
	byFeature := map[string][]float64{}
	for _, s := range samples {
		for k, v := range s {
			byFeature[k] = append(byFeature[k], v)
		}
	}
	d.ref = make(map[string]featureStats, len(byFeature))
	for k, vals := range byFeature {
		sort.Float64s(vals)
		d.ref[k] = featureStats{
			mean:   stat.Mean(vals, nil),
			std:    sampleStd(vals),
			min:    vals[0],
			max:    vals[len(vals)-1],
			median: stat.Quantile(0.5, stat.Empirical, vals, nil),
		}
	}
}

// HasReference reports whether a baseline has been set.
func (d *DriftDetector) HasReference() bool { return len(d.ref) > 0 }

// CheckDrift appends the input to the rolling window and, once the window
// has reached half capacity, recomputes the drift score. Returns the
// current score and whether it was computed on this call.
func (d *DriftDetector) CheckDrift(features map[string]float64) (float64, bool) {
	if len(d.ref) == 0 || len(features) == 0 {
		return 0, false
	}
	if len(d.window) == d.windowMax {
		copy(d.window, d.window[1:])
		d.window = d.window[:d.windowMax-1]
	}
	d.window = append(d.window, features)
	if len(d.window) < d.windowMax/2 {
		return 0, false
	}

	byFeature := map[string][]float64{}
	for _, s := range d.window {
		for k, v := range s {
			if _, ok := d.ref[k]; ok {
				byFeature[k] = append(byFeature[k], v)
			}
		}
	}
	if len(byFeature) == 0 {
		return 0, false
	}

	total := 0.0
	count := 0
	for k, vals := range byFeature {
		ref := d.ref[k]
		mean := stat.Mean(vals, nil)
		std := sampleStd(vals)
		var meanShift, stdShift float64
		if ref.std > 0 {
			meanShift = math.Abs(mean-ref.mean) / ref.std
			stdShift = math.Abs(std-ref.std) / ref.std
		} else {
			meanShift = math.Abs(mean - ref.mean)
			stdShift = math.Abs(std - ref.std)
		}
		total += (meanShift + stdShift) / 2
		count++
	}
	score := total / float64(count)
	d.scores.push(score)
	return score, true
}

// sampleStd is stat.StdDev with a zero fallback for singleton samples,
// whose n-1 sample variance is NaN.
func sampleStd(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	return stat.StdDev(vals, nil)
}

// Score is the most recent drift score, zero before any was computed.
func (d *DriftDetector) Score() float64 { return d.scores.last() }

// IsDrifting reports whether the mean of the last scores exceeds the
// configured threshold.
func (d *DriftDetector) IsDrifting() bool {
	if len(d.scores.values) == 0 {
		return false
	}
	return d.scores.tailMean(driftScoreTail) > d.threshold
}

// NumericFeatures extracts the numeric fields of a request input, plus a
// length feature for text so string-only inputs still participate.
func NumericFeatures(input map[string]any) map[string]float64 {
	out := map[string]float64{}
	for k, v := range input {
		switch t := v.(type) {
		case float64:
			out[k] = t
		case int:
			out[k] = float64(t)
		case int64:
			out[k] = float64(t)
		case string:
			out[k+"_len"] = float64(len(t))
		}
	}
	return out
}
