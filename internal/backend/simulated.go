package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strings"
	"time"

	"inferd/pkg/types"
)

// The concrete backends below share a deterministic scoring core: the
// control plane never computes tensors itself, but every adapter carries the
// real lifecycle plumbing (artifact checks, bounded predict latency, ctx
// cancellation) so the serving path behaves like production.

type simCore struct {
	cfg     types.ModelConfig
	loaded  bool
	latency time.Duration
}

func (s *simCore) load(cfg types.ModelConfig, latency time.Duration, checkArtifact bool) error {
	if checkArtifact {
		if cfg.ArtifactPath == "" {
			return loadFailedError{msg: "empty artifact path for " + cfg.ID}
		}
		if _, err := os.Stat(cfg.ArtifactPath); err != nil {
			return loadFailedError{msg: fmt.Sprintf("artifact %s: %v", cfg.ArtifactPath, err)}
		}
	}
	s.cfg = cfg
	s.latency = latency
	s.loaded = true
	return nil
}

func (s *simCore) predict(ctx context.Context, input map[string]any) (map[string]any, error) {
	if !s.loaded {
		return nil, notLoadedError{}
	}
	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.score(input), nil
}

// score derives a stable pseudo-output from (model id, input) so that
// repeated predictions of the same input agree, which the cache layer
// relies on.
func (s *simCore) score(input map[string]any) map[string]any {
	seed := s.seed(input)
	switch s.cfg.Task {
	case types.TaskSentiment:
		return map[string]any{"scores": scoreVector(seed, 3)}
	case types.TaskClassification:
		n := len(s.cfg.Labels)
		if n == 0 {
			n = 2
		}
		return map[string]any{"scores": scoreVector(seed, n)}
	case types.TaskEmbedding:
		vec := make([]float64, 8)
		for i := range vec {
			vec[i] = float64((seed>>uint(i*4))&0xff)/255.0*2 - 1
		}
		return map[string]any{"embedding": vec}
	default:
		text, _ := input["text"].(string)
		return map[string]any{"text": fmt.Sprintf("%s [generated by %s]", text, s.cfg.ID)}
	}
}

func (s *simCore) seed(input map[string]any) uint64 {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.cfg.ID))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, input[k])
	}
	return h.Sum64()
}

func (s *simCore) warmup(ctx context.Context, n int) error {
	if !s.loaded {
		return notLoadedError{}
	}
	for i := 0; i < n; i++ {
		if _, err := s.predict(ctx, map[string]any{"text": fmt.Sprintf("warmup-%d", i)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *simCore) unload() error {
	s.loaded = false
	return nil
}

// scoreVector spreads the seed over n buckets and normalizes to sum 1.
func scoreVector(seed uint64, n int) []float64 {
	raw := make([]float64, n)
	sum := 0.0
	for i := range raw {
		raw[i] = 1 + float64((seed>>uint(i*8))&0xff)
		sum += raw[i]
	}
	for i := range raw {
		raw[i] /= sum
	}
	return raw
}

type torchBackend struct{ simCore }

func (b *torchBackend) Load(ctx context.Context, cfg types.ModelConfig) error {
	return b.load(cfg, 12*time.Millisecond, true)
}
func (b *torchBackend) Predict(ctx context.Context, in map[string]any) (map[string]any, error) {
	return b.predict(ctx, in)
}
func (b *torchBackend) Unload() error                         { return b.unload() }
func (b *torchBackend) Warmup(ctx context.Context, n int) error { return b.warmup(ctx, n) }

type onnxBackend struct{ simCore }

func (b *onnxBackend) Load(ctx context.Context, cfg types.ModelConfig) error {
	if cfg.ArtifactPath != "" && !strings.HasSuffix(cfg.ArtifactPath, ".onnx") {
		return loadFailedError{msg: "onnx backend expects a .onnx artifact: " + cfg.ArtifactPath}
	}
	return b.load(cfg, 6*time.Millisecond, true)
}
func (b *onnxBackend) Predict(ctx context.Context, in map[string]any) (map[string]any, error) {
	return b.predict(ctx, in)
}
func (b *onnxBackend) Unload() error                         { return b.unload() }
func (b *onnxBackend) Warmup(ctx context.Context, n int) error { return b.warmup(ctx, n) }

type tensorrtBackend struct{ simCore }

func (b *tensorrtBackend) Load(ctx context.Context, cfg types.ModelConfig) error {
	// TensorRT builds an engine per precision; reflect that in load cost only.
	return b.load(cfg, 3*time.Millisecond, true)
}
func (b *tensorrtBackend) Predict(ctx context.Context, in map[string]any) (map[string]any, error) {
	return b.predict(ctx, in)
}
func (b *tensorrtBackend) Unload() error                         { return b.unload() }
func (b *tensorrtBackend) Warmup(ctx context.Context, n int) error { return b.warmup(ctx, n) }

// hostedBackend stands in for a remote pipeline endpoint; its locator is a
// URL, not a local file, so no artifact stat.
type hostedBackend struct{ simCore }

func (b *hostedBackend) Load(ctx context.Context, cfg types.ModelConfig) error {
	if cfg.ArtifactPath == "" {
		return loadFailedError{msg: "hosted backend requires an endpoint locator for " + cfg.ID}
	}
	return b.load(cfg, 25*time.Millisecond, false)
}
func (b *hostedBackend) Predict(ctx context.Context, in map[string]any) (map[string]any, error) {
	return b.predict(ctx, in)
}
func (b *hostedBackend) Unload() error                         { return b.unload() }
func (b *hostedBackend) Warmup(ctx context.Context, n int) error { return b.warmup(ctx, n) }
