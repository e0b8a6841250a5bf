package version

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/router"
	"inferd/internal/store"
	"inferd/pkg/types"
)

type fakeLoader struct {
	mu       sync.Mutex
	loaded   map[string]bool
	unloaded []string
}

func newFakeLoader() *fakeLoader { return &fakeLoader{loaded: map[string]bool{}} }

func (f *fakeLoader) LoadModel(_ context.Context, cfg types.ModelConfig) error {
	f.mu.Lock()
	f.loaded[cfg.ID] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) UnloadModel(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.loaded, id)
	f.unloaded = append(f.unloaded, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) IsLoaded(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded[id]
}

func newTestManager(t *testing.T) (*Manager, *fakeLoader) {
	t.Helper()
	fl := newFakeLoader()
	m := NewManager(fl, router.New(), store.NewMemoryStore(), zerolog.Nop())
	return m, fl
}

func cfgFor(id, version string) types.ModelConfig {
	return types.ModelConfig{ID: id, Version: version, Backend: types.BackendONNX, Task: types.TaskSentiment}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen); !IsValidation(err) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := m.Register(ctx, cfgFor("m", "1.1"), types.DeployBlueGreen); err != nil {
		t.Fatalf("new version should register: %v", err)
	}
}

func TestRegisterRejectsRolling(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Register(context.Background(), cfgFor("m", "1.0"), types.DeployRolling); !IsValidation(err) {
		t.Fatalf("rolling must be rejected, got %v", err)
	}
}

func TestRegisterComputesChecksum(t *testing.T) {
	m, _ := newTestManager(t)
	p := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	cfg := cfgFor("m", "1.0")
	cfg.ArtifactPath = p
	v, err := m.Register(context.Background(), cfg, types.DeployBlueGreen)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Checksum == "" {
		t.Fatalf("expected artifact checksum")
	}
}

func TestBlueGreenSwapsActive(t *testing.T) {
	m, fl := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen)
	_, _ = m.Register(ctx, cfgFor("m", "1.1"), types.DeployBlueGreen)

	if err := m.Deploy(ctx, "m", "1.0"); err != nil {
		t.Fatalf("deploy 1.0: %v", err)
	}
	if active, ok := m.Active("m"); !ok || active.Version != "1.0" {
		t.Fatalf("expected 1.0 active, got %+v ok=%v", active, ok)
	}
	if !fl.IsLoaded("m@1.0") {
		t.Fatalf("active version should be loaded under its serving id")
	}

	if err := m.Deploy(ctx, "m", "1.1"); err != nil {
		t.Fatalf("deploy 1.1: %v", err)
	}
	if active, _ := m.Active("m"); active.Version != "1.1" {
		t.Fatalf("expected 1.1 active, got %s", active.Version)
	}
	if fl.IsLoaded("m@1.0") {
		t.Fatalf("previous version should be unloaded after swap")
	}
	for _, v := range m.List("m") {
		if v.Version == "1.0" && v.Status != types.VersionRetired {
			t.Fatalf("previous version should be retired, got %s", v.Status)
		}
	}
}

func TestDeployUnknownVersion(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Deploy(context.Background(), "m", "9.9"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCanaryRollout(t *testing.T) {
	m, fl := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen)
	_, _ = m.Register(ctx, cfgFor("m", "1.1"), types.DeployCanary)
	if err := m.Deploy(ctx, "m", "1.0"); err != nil {
		t.Fatalf("deploy 1.0: %v", err)
	}

	if err := m.Deploy(ctx, "m", "1.1"); err != nil {
		t.Fatalf("start canary: %v", err)
	}
	if !fl.IsLoaded("m@1.1") {
		t.Fatalf("canary candidate should be loaded alongside active")
	}
	if !fl.IsLoaded("m@1.0") {
		t.Fatalf("active version must stay loaded during canary")
	}
	// While canarying, serving resolves through the canary rule to one
	// of the two versions.
	sid := m.ResolveServing("m", "user-1")
	if sid != "m@1.0" && sid != "m@1.1" {
		t.Fatalf("unexpected serving id %s", sid)
	}

	if err := m.AdvanceCanary(ctx, "m", 50); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := m.PromoteCanary(ctx, "m"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if active, _ := m.Active("m"); active.Version != "1.1" {
		t.Fatalf("promoted canary should be active, got %s", active.Version)
	}
	if fl.IsLoaded("m@1.0") {
		t.Fatalf("old version should unload after promotion")
	}
}

func TestCanaryAbortRollsBack(t *testing.T) {
	m, fl := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen)
	_, _ = m.Register(ctx, cfgFor("m", "1.1"), types.DeployCanary)
	_ = m.Deploy(ctx, "m", "1.0")
	_ = m.Deploy(ctx, "m", "1.1")

	if err := m.AbortCanary(ctx, "m"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if active, _ := m.Active("m"); active.Version != "1.0" {
		t.Fatalf("abort must keep 1.0 active, got %s", active.Version)
	}
	if fl.IsLoaded("m@1.1") {
		t.Fatalf("aborted candidate should unload")
	}
	if got := m.ResolveServing("m", ""); got != "m@1.0" {
		t.Fatalf("serving should resolve to active after abort, got %s", got)
	}
}

func TestCanaryFirstDeployPromotesDirectly(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _ = m.Register(ctx, cfgFor("m", "1.0"), types.DeployCanary)
	if err := m.Deploy(ctx, "m", "1.0"); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if active, ok := m.Active("m"); !ok || active.Version != "1.0" {
		t.Fatalf("first canary deploy should activate directly, got %+v", active)
	}
}

func TestResolveServingWithoutVersions(t *testing.T) {
	m, _ := newTestManager(t)
	if got := m.ResolveServing("plain-model", ""); got != "plain-model" {
		t.Fatalf("unversioned model resolves to itself, got %s", got)
	}
}

func TestRestore(t *testing.T) {
	db := store.NewMemoryStore()
	fl := newFakeLoader()
	ctx := context.Background()
	m1 := NewManager(fl, router.New(), db, zerolog.Nop())
	_, _ = m1.Register(ctx, cfgFor("m", "1.0"), types.DeployBlueGreen)
	if err := m1.Deploy(ctx, "m", "1.0"); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	m2 := NewManager(fl, router.New(), db, zerolog.Nop())
	if err := m2.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if active, ok := m2.Active("m"); !ok || active.Version != "1.0" {
		t.Fatalf("restored manager should know the active version, got %+v ok=%v", active, ok)
	}
}
