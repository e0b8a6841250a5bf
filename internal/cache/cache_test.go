package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestKeyStableAcrossMapOrder(t *testing.T) {
	a := map[string]any{"text": "great", "lang": "en", "n": float64(3)}
	b := map[string]any{"n": float64(3), "lang": "en", "text": "great"}
	ka, err := Key("m1", a)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	kb, err := Key("m1", b)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if ka != kb {
		t.Fatalf("expected identical keys, got %s vs %s", ka, kb)
	}
}

func TestKeyDiffersByModel(t *testing.T) {
	in := map[string]any{"text": "great"}
	k1, _ := Key("m1", in)
	k2, _ := Key("m2", in)
	if k1 == k2 {
		t.Fatalf("expected different keys for different models")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	if err := s.SetWithTTL(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected hit before expiry, got ok=%v v=%q", ok, v)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zerolog.Nop())
	ctx := context.Background()
	in := map[string]any{"text": "great"}
	if _, hit := c.Get(ctx, "m1", in); hit {
		t.Fatalf("expected initial miss")
	}
	c.Set(ctx, "m1", in, json.RawMessage(`{"scores":[0.1,0.2,0.7]}`), 0)
	raw, hit := c.Get(ctx, "m1", in)
	if !hit {
		t.Fatalf("expected hit after set")
	}
	if string(raw) != `{"scores":[0.1,0.2,0.7]}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, zerolog.Nop())
	ctx := context.Background()
	in := map[string]any{"text": "great"}
	c.Set(ctx, "m1", in, json.RawMessage(`1`), 0)
	c.Set(ctx, "m2", in, json.RawMessage(`2`), 0)
	c.Invalidate(ctx, "m1")
	if _, hit := c.Get(ctx, "m1", in); hit {
		t.Fatalf("expected m1 invalidated")
	}
	if _, hit := c.Get(ctx, "m2", in); !hit {
		t.Fatalf("expected m2 untouched")
	}
}

// failingStore simulates a down backing store.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (failingStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) DeletePrefix(context.Context, string) error { return errors.New("store down") }
func (failingStore) Close() error                               { return nil }

func TestCacheDegradesWhenStoreDown(t *testing.T) {
	c := New(failingStore{}, time.Minute, zerolog.Nop())
	ctx := context.Background()
	in := map[string]any{"text": "great"}
	if _, hit := c.Get(ctx, "m1", in); hit {
		t.Fatalf("down store must read as miss")
	}
	// Set must not panic or surface the error.
	c.Set(ctx, "m1", in, json.RawMessage(`1`), 0)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.SetWithTTL(ctx, "m1:abc", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, err := s.Get(ctx, "m1:abc"); err != nil || !ok || string(v) != "v" {
		t.Fatalf("get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.DeletePrefix(ctx, "m1:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "m1:abc"); ok {
		t.Fatalf("expected miss after prefix delete")
	}
}

func TestSQLiteStoreSweep(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.SetWithTTL(ctx, "stale", []byte("v"), -time.Second); err != nil {
		t.Fatalf("set stale: %v", err)
	}
	if err := s.SetWithTTL(ctx, "live", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set live: %v", err)
	}
	if err := s.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM prediction_cache;").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep should drop only expired rows, %d remain", n)
	}
	if v, ok, _ := s.Get(ctx, "live"); !ok || string(v) != "v" {
		t.Fatalf("live entry must survive sweep")
	}
}

func TestSQLiteStoreExpiry(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.SetWithTTL(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected already-expired entry to miss")
	}
}
