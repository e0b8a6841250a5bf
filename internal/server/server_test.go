package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/monitor"
	"inferd/pkg/types"
)

// fakeMetrics records observed events for assertions.
type fakeMetrics struct {
	mu     sync.Mutex
	events []monitor.Event
	forgot []string
}

func (f *fakeMetrics) Observe(e monitor.Event) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

func (f *fakeMetrics) Forget(id string) {
	f.mu.Lock()
	f.forgot = append(f.forgot, id)
	f.mu.Unlock()
}

func (f *fakeMetrics) Stats(string) types.ModelStats { return types.ModelStats{} }

func (f *fakeMetrics) snapshot() []monitor.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]monitor.Event, len(f.events))
	copy(out, f.events)
	return out
}

func artifact(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return p
}

func sentimentConfig(t *testing.T, id string) types.ModelConfig {
	return types.ModelConfig{
		ID:           id,
		Backend:      types.BackendPyTorch,
		Task:         types.TaskSentiment,
		ArtifactPath: artifact(t, id+".pt"),
		Version:      "1.0.0",
	}
}

func newTestServer(t *testing.T, kv cache.KeyValueStore) (*Server, *fakeMetrics) {
	t.Helper()
	if kv == nil {
		kv = cache.NewMemoryStore()
	}
	fm := &fakeMetrics{}
	s := New(cache.New(kv, time.Minute, zerolog.Nop()), fm, Options{}, zerolog.Nop())
	t.Cleanup(s.Close)
	return s, fm
}

func TestLoadPredictUnload(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	cfg := sentimentConfig(t, "sentiment-v1")
	if err := s.LoadModel(ctx, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !s.IsLoaded("sentiment-v1") {
		t.Fatalf("expected model loaded")
	}
	res, err := s.Predict(ctx, "sentiment-v1", map[string]any{"text": "great"}, false)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if res.FromCache {
		t.Fatalf("uncached predict must not report cache hit")
	}
	if len(res.Raw) == 0 || res.Output == nil {
		t.Fatalf("expected raw + decoded output")
	}
	if err := s.UnloadModel(ctx, "sentiment-v1"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if s.IsLoaded("sentiment-v1") {
		t.Fatalf("expected model unloaded")
	}
}

func TestLoadRejectsDuplicate(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	cfg := sentimentConfig(t, "m")
	if err := s.LoadModel(ctx, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.LoadModel(ctx, cfg); !IsAlreadyLoaded(err) {
		t.Fatalf("expected already-loaded, got %v", err)
	}
}

func TestFailedLoadCanBeRetried(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	bad := types.ModelConfig{ID: "m", Backend: types.BackendPyTorch, Task: types.TaskSentiment, ArtifactPath: "/nope.pt"}
	if err := s.LoadModel(ctx, bad); err == nil {
		t.Fatalf("expected load failure")
	}
	st, err := s.Status("m")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != types.StateError {
		t.Fatalf("expected error state, got %s", st.State)
	}
	if err := s.LoadModel(ctx, sentimentConfig(t, "m")); err != nil {
		t.Fatalf("reload after failure: %v", err)
	}
}

func TestUnloadUnknownIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	err := s.UnloadModel(context.Background(), "ghost")
	if !IsNotLoaded(err) {
		t.Fatalf("expected not-loaded, got %v", err)
	}
}

func TestPredictNotLoaded(t *testing.T) {
	s, _ := newTestServer(t, nil)
	_, err := s.Predict(context.Background(), "ghost", map[string]any{"text": "x"}, true)
	if !IsNotLoaded(err) {
		t.Fatalf("expected not-loaded, got %v", err)
	}
}

func TestPredictCacheHitOnSecondCall(t *testing.T) {
	s, fm := newTestServer(t, nil)
	ctx := context.Background()
	if err := s.LoadModel(ctx, sentimentConfig(t, "sentiment-v1")); err != nil {
		t.Fatalf("load: %v", err)
	}
	in := map[string]any{"text": "great"}
	first, err := s.Predict(ctx, "sentiment-v1", in, true)
	if err != nil {
		t.Fatalf("first predict: %v", err)
	}
	if first.FromCache {
		t.Fatalf("first call must miss")
	}
	second, err := s.Predict(ctx, "sentiment-v1", in, true)
	if err != nil {
		t.Fatalf("second predict: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("second call must hit")
	}
	if string(first.Raw) != string(second.Raw) {
		t.Fatalf("cached prediction differs: %s vs %s", first.Raw, second.Raw)
	}
	events := fm.snapshot()
	if len(events) != 2 || events[0].CacheHit || !events[1].CacheHit {
		t.Fatalf("expected miss-then-hit events, got %+v", events)
	}
}

// downStore simulates an unreachable cache backend.
type downStore struct{}

func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, context.DeadlineExceeded
}
func (downStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return context.DeadlineExceeded
}
func (downStore) DeletePrefix(context.Context, string) error { return context.DeadlineExceeded }
func (downStore) Close() error                               { return nil }

func TestPredictDegradesWithoutCache(t *testing.T) {
	s, _ := newTestServer(t, downStore{})
	ctx := context.Background()
	if err := s.LoadModel(ctx, sentimentConfig(t, "m")); err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := s.Predict(ctx, "m", map[string]any{"text": "great"}, true)
	if err != nil {
		t.Fatalf("predict with down cache: %v", err)
	}
	if res.FromCache {
		t.Fatalf("down cache cannot produce a hit")
	}
}

func TestParallelPredictsDifferentModels(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.LoadModel(ctx, sentimentConfig(t, id)); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := s.Predict(ctx, id, map[string]any{"text": "x"}, false); err != nil {
					errs <- err
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("parallel predict: %v", err)
	}
}

func TestStatusAllIncludesStats(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	if err := s.LoadModel(ctx, sentimentConfig(t, "m")); err != nil {
		t.Fatalf("load: %v", err)
	}
	all := s.StatusAll()
	if len(all) != 1 || all[0].ModelID != "m" || all[0].State != types.StateReady {
		t.Fatalf("unexpected status: %+v", all)
	}
}
