package monitor

import (
	"math"
	"math/rand"
	"testing"
)

func baseline(r *rand.Rand, n int, mean, spread float64) []map[string]float64 {
	out := make([]map[string]float64, n)
	for i := range out {
		out[i] = map[string]float64{"x": mean + (r.Float64()-0.5)*spread}
	}
	return out
}

func TestNoDriftOnSameDistribution(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	d := NewDriftDetector(0.5, 40)
	d.SetReference(baseline(r, 200, 10, 4))
	for i := 0; i < 40; i++ {
		d.CheckDrift(map[string]float64{"x": 10 + (r.Float64()-0.5)*4})
	}
	if d.IsDrifting() {
		t.Fatalf("same distribution should not drift, score=%f", d.Score())
	}
}

func TestDriftOnShiftedMean(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	d := NewDriftDetector(0.5, 40)
	d.SetReference(baseline(r, 200, 10, 4))
	for i := 0; i < 40; i++ {
		d.CheckDrift(map[string]float64{"x": 30 + (r.Float64()-0.5)*4})
	}
	if !d.IsDrifting() {
		t.Fatalf("shifted mean should drift, score=%f", d.Score())
	}
	if d.Score() <= 0.5 {
		t.Fatalf("expected score above threshold, got %f", d.Score())
	}
}

func TestDriftNeedsHalfWindow(t *testing.T) {
	d := NewDriftDetector(0.5, 40)
	d.SetReference(baseline(rand.New(rand.NewSource(3)), 100, 10, 4))
	for i := 0; i < 19; i++ {
		if _, computed := d.CheckDrift(map[string]float64{"x": 100}); computed {
			t.Fatalf("score computed before half window at sample %d", i)
		}
	}
	if _, computed := d.CheckDrift(map[string]float64{"x": 100}); !computed {
		t.Fatalf("expected score once window reaches half capacity")
	}
}

func TestDriftZeroRefStdFallsBackToRawDelta(t *testing.T) {
	d := NewDriftDetector(0.5, 10)
	constant := make([]map[string]float64, 20)
	for i := range constant {
		constant[i] = map[string]float64{"x": 5}
	}
	d.SetReference(constant)
	for i := 0; i < 10; i++ {
		d.CheckDrift(map[string]float64{"x": 7})
	}
	// refStd=0: score uses |delta| directly, mean shift is 2.
	if s := d.Score(); s < 0.9 {
		t.Fatalf("expected raw-delta score, got %f", s)
	}
}

func TestDriftSparseFeatureStaysFinite(t *testing.T) {
	d := NewDriftDetector(0.5, 10)
	// "y" appears in a single baseline sample; its sample std is
	// undefined and must not poison the score.
	d.SetReference([]map[string]float64{
		{"x": 1, "y": 1},
		{"x": 1},
		{"x": 1},
	})
	for i := 0; i < 10; i++ {
		d.CheckDrift(map[string]float64{"x": 2, "y": 5})
	}
	if math.IsNaN(d.Score()) {
		t.Fatalf("sparse feature produced NaN score")
	}
	if !d.IsDrifting() {
		t.Fatalf("large shift should still register as drift, score=%f", d.Score())
	}
}

func TestDriftSingleWindowObservationStaysFinite(t *testing.T) {
	d := NewDriftDetector(0.5, 4)
	d.SetReference([]map[string]float64{
		{"x": 1, "y": 1},
		{"x": 1, "y": 1},
		{"x": 1, "y": 1},
	})
	// "y" shows up in only one window sample when the score computes.
	d.CheckDrift(map[string]float64{"x": 1, "y": 3})
	score, computed := d.CheckDrift(map[string]float64{"x": 1})
	if !computed {
		t.Fatalf("expected score at half capacity")
	}
	if math.IsNaN(score) {
		t.Fatalf("singleton window feature produced NaN score")
	}
}

func TestNoReferenceNoScore(t *testing.T) {
	d := NewDriftDetector(0.5, 10)
	if _, computed := d.CheckDrift(map[string]float64{"x": 1}); computed {
		t.Fatalf("detector without reference must not score")
	}
	if d.HasReference() {
		t.Fatalf("HasReference should be false")
	}
}

func TestNumericFeatures(t *testing.T) {
	feats := NumericFeatures(map[string]any{"text": "hello", "age": float64(3), "flag": true})
	if feats["age"] != 3 {
		t.Fatalf("expected age feature, got %v", feats)
	}
	if feats["text_len"] != 5 {
		t.Fatalf("expected text length feature, got %v", feats)
	}
	if _, ok := feats["flag"]; ok {
		t.Fatalf("bool fields are not numeric features")
	}
}
