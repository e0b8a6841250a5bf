package store

import (
	"context"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]DurableStore {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]DurableStore{"memory": NewMemoryStore(), "sqlite": sq}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
			}
			if err := s.Set(ctx, "alert:1", []byte("a")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.Set(ctx, "alert:1", []byte("b")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, ok, err := s.Get(ctx, "alert:1")
			if err != nil || !ok || string(v) != "b" {
				t.Fatalf("get after overwrite: v=%q ok=%v err=%v", v, ok, err)
			}
			if err := s.Delete(ctx, "alert:1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "alert:1"); ok {
				t.Fatalf("expected miss after delete")
			}
		})
	}
}

func TestStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Set(ctx, "experiment:1", []byte("e1"))
			_ = s.Set(ctx, "experiment:2", []byte("e2"))
			_ = s.Set(ctx, "version:m@1", []byte("v1"))
			entries, err := s.List(ctx, "experiment:")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("expected 2 experiment entries, got %d", len(entries))
			}
			for _, e := range entries {
				if e.Key != "experiment:1" && e.Key != "experiment:2" {
					t.Fatalf("unexpected key %s", e.Key)
				}
			}
		})
	}
}
