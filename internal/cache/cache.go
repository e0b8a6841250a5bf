package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ModelCache stores previously computed predictions keyed by
// (model id, canonical input). Store failures never fail a request: Get
// degrades to a miss and Set is fire-and-forget with a logged error.
type ModelCache struct {
	store      KeyValueStore
	defaultTTL time.Duration
	log        zerolog.Logger
}

func New(store KeyValueStore, defaultTTL time.Duration, log zerolog.Logger) *ModelCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &ModelCache{
		store:      store,
		defaultTTL: defaultTTL,
		log:        log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached prediction for (modelID, input), if present.
func (c *ModelCache) Get(ctx context.Context, modelID string, input map[string]any) (json.RawMessage, bool) {
	key, err := Key(modelID, input)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache key build failed")
		return nil, false
	}
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache get failed, treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return json.RawMessage(value), true
}

// Set writes through a computed prediction. ttl<=0 uses the cache default.
func (c *ModelCache) Set(ctx context.Context, modelID string, input map[string]any, value json.RawMessage, ttl time.Duration) {
	key, err := Key(modelID, input)
	if err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache key build failed")
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.SetWithTTL(ctx, key, []byte(value), ttl); err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache set failed")
	}
}

// Invalidate drops all entries for a model. Called on unload and on
// version swaps so stale outputs cannot outlive the model that made them.
func (c *ModelCache) Invalidate(ctx context.Context, modelID string) {
	if err := c.store.DeletePrefix(ctx, modelID+":"); err != nil {
		c.log.Warn().Err(err).Str("model", modelID).Msg("cache invalidate failed")
	}
}

// Key builds the stable cache key: modelID prefix plus a sha256 of the
// canonical (sorted-key) JSON form of the input.
func Key(modelID string, input map[string]any) (string, error) {
	canon, err := canonicalJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return modelID + ":" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v with map keys in sorted order at every level so
// logically equal inputs hash identically.
func canonicalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := canonicalJSON(t[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	case []any:
		out := []byte{'['}
		for i, e := range t {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := canonicalJSON(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		return append(out, ']'), nil
	case nil, bool, string, float64, json.Number:
		return json.Marshal(t)
	default:
		// Round-trip other Go values through JSON to normalize them.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		var norm any
		if err := json.Unmarshal(raw, &norm); err != nil {
			return nil, fmt.Errorf("canonicalize: %w", err)
		}
		return canonicalJSON(norm)
	}
}
