package server

import (
	"context"
	"testing"
	"time"

	"inferd/pkg/types"
)

func TestSweepEvictsIdleOnly(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()
	if err := s.LoadModel(ctx, sentimentConfig(t, "stale")); err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if err := s.LoadModel(ctx, sentimentConfig(t, "fresh")); err != nil {
		t.Fatalf("load fresh: %v", err)
	}

	// Age the stale instance past the idle threshold.
	s.mu.RLock()
	s.instances["stale"].lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())
	s.mu.RUnlock()

	s.sweepIdle(time.Now())

	if s.IsLoaded("stale") {
		t.Fatalf("idle model should have been evicted")
	}
	if !s.IsLoaded("fresh") {
		t.Fatalf("recently used model must survive the sweep")
	}
}

func TestSweepSkipsLoadingInstances(t *testing.T) {
	s, _ := newTestServer(t, nil)
	inst := &Instance{cfg: sentimentConfig(t, "loading")}
	inst.state = types.StateLoading
	inst.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())
	s.mu.Lock()
	s.instances["loading"] = inst
	s.mu.Unlock()

	s.sweepIdle(time.Now())

	s.mu.RLock()
	_, present := s.instances["loading"]
	s.mu.RUnlock()
	if !present {
		t.Fatalf("a loading instance must not be swept")
	}
}
