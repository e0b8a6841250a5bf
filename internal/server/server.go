// Package server owns the registry of loaded models and the cache-first
// predict path.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/cache"
	"inferd/internal/monitor"
	"inferd/pkg/types"
)

// Metrics is the event/statistics surface the server needs from the
// monitor. Split out as an interface so the server has no opinion about
// where metrics live.
type Metrics interface {
	Observe(monitor.Event)
	Forget(modelID string)
	Stats(modelID string) types.ModelStats
}

// Options tunes the server; zero values fall back to defaults.
type Options struct {
	PredictTimeout time.Duration
	LoadTimeout    time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	WarmupRequests int
}

const (
	defaultPredictTimeout = 10 * time.Second
	defaultLoadTimeout    = 2 * time.Minute
	defaultIdleTimeout    = 30 * time.Minute
	defaultSweepInterval  = 5 * time.Minute
	defaultWarmupRequests = 3
)

// Server is the model registry with load/unload/predict and idle eviction.
type Server struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	cache   *cache.ModelCache
	metrics Metrics
	opts    Options
	log     zerolog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(c *cache.ModelCache, m Metrics, opts Options, log zerolog.Logger) *Server {
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = defaultPredictTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.WarmupRequests <= 0 {
		opts.WarmupRequests = defaultWarmupRequests
	}
	return &Server{
		instances: make(map[string]*Instance),
		cache:     c,
		metrics:   m,
		opts:      opts,
		log:       log.With().Str("component", "server").Logger(),
		done:      make(chan struct{}),
	}
}

// LoadModel builds a backend for cfg, loads it, and registers the
// instance. Loading an id that is already serving is rejected; a prior
// failed load is replaced.
func (s *Server) LoadModel(ctx context.Context, cfg types.ModelConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("load: empty model id")
	}
	s.mu.Lock()
	if prev, ok := s.instances[cfg.ID]; ok {
		state, _, _ := prev.snapshot()
		if state == types.StateReady || state == types.StateLoading {
			s.mu.Unlock()
			return alreadyLoadedError{id: cfg.ID}
		}
	}
	inst := &Instance{cfg: cfg, state: types.StateLoading}
	inst.touch()
	s.instances[cfg.ID] = inst
	s.mu.Unlock()

	b, err := backend.New(cfg)
	if err == nil {
		loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
		err = b.Load(loadCtx, cfg)
		cancel()
	}
	inst.mu.Lock()
	if err != nil {
		inst.state = types.StateError
		inst.errMsg = err.Error()
		inst.mu.Unlock()
		s.log.Error().Err(err).Str("model", cfg.ID).Msg("load failed")
		return err
	}
	inst.backend = b
	inst.state = types.StateReady
	inst.loadedAt = time.Now()
	inst.mu.Unlock()
	s.log.Info().Str("model", cfg.ID).Str("backend", string(cfg.Backend)).Msg("model loaded")

	// Best-effort warmup after Ready; a failure is logged, never reverted.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := context.WithTimeout(context.Background(), s.opts.PredictTimeout)
		defer cancel()
		if werr := b.Warmup(wctx, s.opts.WarmupRequests); werr != nil {
			s.log.Warn().Err(werr).Str("model", cfg.ID).Msg("warmup failed")
		}
	}()
	return nil
}

// UnloadModel drains and removes a model. Unknown ids return a
// not-loaded error callers may treat as benign.
func (s *Server) UnloadModel(ctx context.Context, id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return notLoadedError{id: id}
	}
	delete(s.instances, id)
	s.mu.Unlock()

	// Taking the write lock waits out in-flight predicts for this model.
	inst.mu.Lock()
	if inst.backend != nil {
		if err := inst.backend.Unload(); err != nil {
			s.log.Warn().Err(err).Str("model", id).Msg("backend unload reported error")
		}
	}
	inst.state = types.StateUnloaded
	inst.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	if s.metrics != nil {
		s.metrics.Forget(id)
	}
	s.log.Info().Str("model", id).Msg("model unloaded")
	return nil
}

// PredictResult carries the raw backend output plus cache provenance.
type PredictResult struct {
	Output    map[string]any
	Raw       json.RawMessage
	FromCache bool
	Latency   time.Duration
	Config    types.ModelConfig
}

// Predict runs the cache-first predict path for one model.
func (s *Server) Predict(ctx context.Context, id string, input map[string]any, useCache bool) (PredictResult, error) {
	s.mu.RLock()
	inst, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return PredictResult{}, notLoadedError{id: id}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()
	if inst.state != types.StateReady {
		return PredictResult{}, notLoadedError{id: id}
	}
	res := PredictResult{Config: inst.cfg}

	if useCache && s.cache != nil {
		start := time.Now()
		if raw, hit := s.cache.Get(ctx, id, input); hit {
			var out map[string]any
			if err := json.Unmarshal(raw, &out); err == nil {
				inst.touch()
				res.Output = out
				res.Raw = raw
				res.FromCache = true
				res.Latency = time.Since(start)
				s.observe(monitor.Event{ModelID: id, Latency: res.Latency, CacheHit: true})
				return res, nil
			}
			s.log.Warn().Str("model", id).Msg("cache entry undecodable, falling through")
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.PredictTimeout)
	defer cancel()
	start := time.Now()
	out, err := inst.backend.Predict(pctx, input)
	res.Latency = time.Since(start)

	if err != nil {
		s.observe(monitor.Event{ModelID: id, Latency: res.Latency, Err: true, Input: input})
		if errors.Is(err, context.DeadlineExceeded) {
			return res, timeoutError{op: "predict " + id}
		}
		return res, fmt.Errorf("predict %s: %w", id, err)
	}
	inst.touch()
	s.observe(monitor.Event{ModelID: id, Latency: res.Latency, Input: input})

	raw, merr := json.Marshal(out)
	if merr != nil {
		return res, fmt.Errorf("predict %s: encode output: %w", id, merr)
	}
	res.Output = out
	res.Raw = raw
	if useCache && s.cache != nil {
		s.cache.Set(ctx, id, input, raw, inst.cfg.CacheTTL)
	}
	return res, nil
}

func (s *Server) observe(e monitor.Event) {
	if s.metrics != nil {
		s.metrics.Observe(e)
	}
}

// IsLoaded reports whether id is registered and Ready.
func (s *Server) IsLoaded(id string) bool {
	s.mu.RLock()
	inst, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	state, _, _ := inst.snapshot()
	return state == types.StateReady
}

// Status returns the status snapshot for one model.
func (s *Server) Status(id string) (types.ModelStatus, error) {
	s.mu.RLock()
	inst, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return types.ModelStatus{}, notLoadedError{id: id}
	}
	return s.statusOf(id, inst), nil
}

// StatusAll returns the snapshot of every registered model.
func (s *Server) StatusAll() []types.ModelStatus {
	s.mu.RLock()
	ids := make([]string, 0, len(s.instances))
	insts := make([]*Instance, 0, len(s.instances))
	for id, inst := range s.instances {
		ids = append(ids, id)
		insts = append(insts, inst)
	}
	s.mu.RUnlock()

	out := make([]types.ModelStatus, len(ids))
	for i := range ids {
		out[i] = s.statusOf(ids[i], insts[i])
	}
	return out
}

func (s *Server) statusOf(id string, inst *Instance) types.ModelStatus {
	state, errMsg, loadedAt := inst.snapshot()
	st := types.ModelStatus{
		ModelID:  id,
		State:    state,
		Version:  inst.cfg.Version,
		Error:    errMsg,
		LastUsed: inst.lastUsedAt(),
		LoadedAt: loadedAt,
	}
	if s.metrics != nil {
		st.Stats = s.metrics.Stats(id)
	}
	return st
}

// Close drains background work. Loaded models stay loaded; callers that
// want a full teardown unload explicitly first.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
