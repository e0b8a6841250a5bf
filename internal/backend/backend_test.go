package backend

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"inferd/pkg/types"
)

func artifact(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return p
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(types.ModelConfig{ID: "m", Backend: "mxnet"})
	if err == nil || !IsLoadFailed(err) {
		t.Fatalf("expected load-failed for unknown kind, got %v", err)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	b, err := New(types.ModelConfig{ID: "m", Backend: types.BackendPyTorch})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = b.Load(context.Background(), types.ModelConfig{ID: "m", Backend: types.BackendPyTorch, ArtifactPath: "/nope/missing.pt"})
	if err == nil || !IsLoadFailed(err) {
		t.Fatalf("expected load-failed for missing artifact, got %v", err)
	}
}

func TestONNXRejectsWrongExtension(t *testing.T) {
	cfg := types.ModelConfig{ID: "m", Backend: types.BackendONNX, ArtifactPath: artifact(t, "model.pt")}
	b, _ := New(cfg)
	if err := b.Load(context.Background(), cfg); err == nil || !IsLoadFailed(err) {
		t.Fatalf("expected onnx to reject .pt artifact, got %v", err)
	}
}

func TestPredictBeforeLoad(t *testing.T) {
	b, _ := New(types.ModelConfig{ID: "m", Backend: types.BackendHosted})
	if _, err := b.Predict(context.Background(), map[string]any{"text": "x"}); !IsNotLoaded(err) {
		t.Fatalf("expected not-loaded, got %v", err)
	}
}

func TestPredictDeterministic(t *testing.T) {
	cfg := types.ModelConfig{
		ID: "sent", Backend: types.BackendPyTorch, Task: types.TaskSentiment,
		ArtifactPath: artifact(t, "model.pt"),
	}
	b, _ := New(cfg)
	if err := b.Load(context.Background(), cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	in := map[string]any{"text": "great product"}
	out1, err := b.Predict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	out2, err := b.Predict(context.Background(), in)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !reflect.DeepEqual(out1, out2) {
		t.Fatalf("expected identical outputs, got %v vs %v", out1, out2)
	}
	scores, ok := out1["scores"].([]float64)
	if !ok || len(scores) != 3 {
		t.Fatalf("expected 3-way score vector, got %v", out1["scores"])
	}
	sum := scores[0] + scores[1] + scores[2]
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("scores should normalize to 1, got %f", sum)
	}
}

func TestPredictHonorsCancel(t *testing.T) {
	cfg := types.ModelConfig{ID: "g", Backend: types.BackendHosted, Task: types.TaskGeneration, ArtifactPath: "https://example.test/pipeline"}
	b, _ := New(cfg)
	if err := b.Load(context.Background(), cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Predict(ctx, map[string]any{"text": "x"}); err == nil {
		t.Fatalf("expected canceled context to fail predict")
	}
}

func TestWarmupAfterLoad(t *testing.T) {
	cfg := types.ModelConfig{ID: "sent", Backend: types.BackendTensorRT, Task: types.TaskSentiment, ArtifactPath: artifact(t, "model.plan")}
	b, _ := New(cfg)
	if err := b.Warmup(context.Background(), 2); !IsNotLoaded(err) {
		t.Fatalf("warmup before load should report not-loaded, got %v", err)
	}
	if err := b.Load(context.Background(), cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := b.Warmup(context.Background(), 2); err != nil {
		t.Fatalf("warmup: %v", err)
	}
}
