// Package experiment owns the A/B experiment lifecycle and routes
// predictions across competing variants.
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/router"
	"inferd/internal/server"
	"inferd/internal/store"
	"inferd/pkg/types"
)

const (
	trafficTolerance   = 0.01
	experimentKeyPrefix = "experiment:"
)

// ModelLoader is what the manager needs from the model server: ensure
// variant models are loaded and run predictions.
type ModelLoader interface {
	LoadModel(ctx context.Context, cfg types.ModelConfig) error
	IsLoaded(id string) bool
	Predict(ctx context.Context, id string, input map[string]any, useCache bool) (server.PredictResult, error)
}

// validationError rejects a malformed experiment before any state change.
type validationError struct{ msg string }

func (e validationError) Error() string { return "invalid experiment: " + e.msg }

// IsValidation reports whether err is an experiment validation rejection.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// notFoundError signals an unknown experiment id.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "experiment not found: " + e.id }

// IsNotFound reports whether err indicates an unknown experiment.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// result is one recorded variant observation on the target metric.
type result struct {
	variantID string
	value     float64
}

type experimentState struct {
	exp     types.Experiment
	results []result
}

// Manager owns experiments, their routing rules, and recorded results.
type Manager struct {
	mu      sync.RWMutex
	exps    map[string]*experimentState
	order   []string // creation order, for stable listings

	router *router.Router
	models ModelLoader
	db     store.DurableStore
	log    zerolog.Logger
}

func NewManager(rt *router.Router, models ModelLoader, db store.DurableStore, log zerolog.Logger) *Manager {
	return &Manager{
		exps:   make(map[string]*experimentState),
		router: rt,
		models: models,
		db:     db,
		log:    log.With().Str("component", "experiments").Logger(),
	}
}

// Create validates and registers a draft experiment. Variant traffic
// percentages must sum to 100 within tolerance and at least two variants
// must compete.
func (m *Manager) Create(ctx context.Context, name string, variants []types.ModelVariant, targetMetric string, criteria map[string]float64) (types.Experiment, error) {
	if len(variants) < 2 {
		return types.Experiment{}, validationError{msg: fmt.Sprintf("need at least 2 variants, got %d", len(variants))}
	}
	sum := 0.0
	for _, v := range variants {
		if v.ID == "" {
			return types.Experiment{}, validationError{msg: "variant with empty id"}
		}
		sum += v.TrafficPercent
	}
	if math.Abs(sum-100) > trafficTolerance {
		return types.Experiment{}, validationError{msg: fmt.Sprintf("traffic percentages must sum to 100, got %.4f", sum)}
	}
	if targetMetric == "" {
		targetMetric = "latency"
	}

	exp := types.Experiment{
		ID:              uuid.NewString(),
		Name:            name,
		Variants:        variants,
		Status:          types.ExperimentDraft,
		TargetMetric:    targetMetric,
		SuccessCriteria: criteria,
	}
	m.mu.Lock()
	m.exps[exp.ID] = &experimentState{exp: exp}
	m.order = append(m.order, exp.ID)
	m.mu.Unlock()
	m.persist(ctx, exp)
	m.log.Info().Str("experiment", exp.ID).Str("name", name).Int("variants", len(variants)).Msg("experiment created")
	return exp, nil
}

// Start moves a draft (or paused) experiment to Running, installs its
// routing rule, and ensures every variant model is loaded.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	st, ok := m.exps[id]
	if !ok {
		m.mu.Unlock()
		return notFoundError{id: id}
	}
	if st.exp.Status != types.ExperimentDraft && st.exp.Status != types.ExperimentPaused {
		status := st.exp.Status
		m.mu.Unlock()
		return validationError{msg: fmt.Sprintf("cannot start experiment in status %s", status)}
	}
	variants := st.exp.Variants
	m.mu.Unlock()

	weights := make([]router.VariantWeight, len(variants))
	for i, v := range variants {
		weights[i] = router.VariantWeight{VariantID: v.ID, Weight: v.TrafficPercent / 100}
	}
	if err := m.router.AddRule(id, weights); err != nil {
		return validationError{msg: err.Error()}
	}
	for _, v := range variants {
		if m.models.IsLoaded(v.Config.ID) {
			continue
		}
		if err := m.models.LoadModel(ctx, v.Config); err != nil {
			m.router.RemoveRule(id)
			return fmt.Errorf("start experiment %s: load variant %s: %w", id, v.ID, err)
		}
	}

	m.mu.Lock()
	st.exp.Status = types.ExperimentRunning
	st.exp.StartTime = time.Now()
	exp := st.exp
	m.mu.Unlock()
	m.persist(ctx, exp)
	m.log.Info().Str("experiment", id).Msg("experiment started")
	return nil
}

// Pause suspends routing for a running experiment without ending it.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	st, ok := m.exps[id]
	if !ok {
		m.mu.Unlock()
		return notFoundError{id: id}
	}
	if st.exp.Status != types.ExperimentRunning {
		status := st.exp.Status
		m.mu.Unlock()
		return validationError{msg: fmt.Sprintf("cannot pause experiment in status %s", status)}
	}
	st.exp.Status = types.ExperimentPaused
	exp := st.exp
	m.mu.Unlock()
	m.persist(ctx, exp)
	return nil
}

// Stop completes an experiment and removes its routing rule. Variant
// models stay loaded.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	st, ok := m.exps[id]
	if !ok {
		m.mu.Unlock()
		return notFoundError{id: id}
	}
	st.exp.Status = types.ExperimentCompleted
	st.exp.EndTime = time.Now()
	exp := st.exp
	m.mu.Unlock()

	m.router.RemoveRule(id)
	m.persist(ctx, exp)
	m.log.Info().Str("experiment", id).Msg("experiment stopped")
	return nil
}

// Get returns one experiment by id.
func (m *Manager) Get(id string) (types.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.exps[id]
	if !ok {
		return types.Experiment{}, notFoundError{id: id}
	}
	return st.exp, nil
}

// List returns all experiments in creation order.
func (m *Manager) List() []types.Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Experiment, 0, len(m.order))
	for _, id := range m.order {
		if st, ok := m.exps[id]; ok {
			out = append(out, st.exp)
		}
	}
	return out
}

// RunningCount reports how many experiments are currently Running.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, st := range m.exps {
		if st.exp.Status == types.ExperimentRunning {
			n++
		}
	}
	return n
}

// IsActive reports whether the experiment is Running and inside its time
// bounds.
func (m *Manager) IsActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.exps[id]
	if !ok {
		return false
	}
	return isActive(st.exp, time.Now())
}

func isActive(exp types.Experiment, now time.Time) bool {
	if exp.Status != types.ExperimentRunning {
		return false
	}
	if !exp.StartTime.IsZero() && now.Before(exp.StartTime) {
		return false
	}
	if !exp.EndTime.IsZero() && now.After(exp.EndTime) {
		return false
	}
	return true
}

// Routed is the outcome of an experiment-routed prediction.
type Routed struct {
	Result    server.PredictResult
	VariantID string
	// Fallback is true when the experiment was missing/inactive and the
	// caller's default model served the request instead.
	Fallback bool
}

// RoutePrediction serves one request through the experiment. A missing
// or inactive experiment falls back to the caller's default model id.
func (m *Manager) RoutePrediction(ctx context.Context, experimentID string, input map[string]any, userID, defaultModel string, useCache bool) (Routed, error) {
	m.mu.RLock()
	st, ok := m.exps[experimentID]
	var exp types.Experiment
	if ok {
		exp = st.exp
	}
	m.mu.RUnlock()

	if !ok || !isActive(exp, time.Now()) {
		if defaultModel == "" {
			return Routed{}, notFoundError{id: experimentID}
		}
		res, err := m.models.Predict(ctx, defaultModel, input, useCache)
		return Routed{Result: res, Fallback: true}, err
	}

	variantID, err := m.router.Route(experimentID, userID)
	if err != nil {
		if defaultModel == "" {
			return Routed{}, err
		}
		res, perr := m.models.Predict(ctx, defaultModel, input, useCache)
		return Routed{Result: res, Fallback: true}, perr
	}
	modelID := defaultModel
	for _, v := range exp.Variants {
		if v.ID == variantID {
			modelID = v.Config.ID
			break
		}
	}
	res, err := m.models.Predict(ctx, modelID, input, useCache)
	if err == nil {
		m.RecordResult(experimentID, variantID, metricValue(exp.TargetMetric, res))
	}
	return Routed{Result: res, VariantID: variantID}, err
}

// metricValue maps the target metric name to an observed value for the
// completed prediction.
func metricValue(metric string, res server.PredictResult) float64 {
	switch metric {
	case "latency":
		return res.Latency.Seconds()
	case "cache_hit":
		if res.FromCache {
			return 1
		}
		return 0
	default:
		// Unknown metrics default to latency so analysis always has data.
		return res.Latency.Seconds()
	}
}

// RecordResult appends one observation for a variant. Unknown ids are
// dropped.
func (m *Manager) RecordResult(experimentID, variantID string, value float64) {
	m.mu.Lock()
	if st, ok := m.exps[experimentID]; ok {
		st.results = append(st.results, result{variantID: variantID, value: value})
	}
	m.mu.Unlock()
}

// Analyze groups recorded results by variant and declares the variant
// with the highest mean on the target metric the winner. Ties resolve to
// the first-seen variant.
func (m *Manager) Analyze(id string) (types.ExperimentAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.exps[id]
	if !ok {
		return types.ExperimentAnalysis{}, notFoundError{id: id}
	}

	an := types.ExperimentAnalysis{ExperimentID: id, TargetMetric: st.exp.TargetMetric}
	byVariant := map[string]*types.VariantSummary{}
	for _, v := range st.exp.Variants {
		byVariant[v.ID] = &types.VariantSummary{VariantID: v.ID, ModelID: v.Config.ID}
	}
	sums := map[string]float64{}
	for _, r := range st.results {
		vs, ok := byVariant[r.variantID]
		if !ok {
			continue
		}
		if vs.SampleSize == 0 || r.value < vs.Min {
			vs.Min = r.value
		}
		if vs.SampleSize == 0 || r.value > vs.Max {
			vs.Max = r.value
		}
		vs.SampleSize++
		sums[r.variantID] += r.value
	}

	best := math.Inf(-1)
	for _, v := range st.exp.Variants {
		vs := byVariant[v.ID]
		if vs.SampleSize > 0 {
			vs.Mean = sums[v.ID] / float64(vs.SampleSize)
			if vs.Mean > best {
				best = vs.Mean
				an.Winner = v.ID
			}
		}
		an.Variants = append(an.Variants, *vs)
	}
	return an, nil
}

// persist writes the experiment record best-effort.
func (m *Manager) persist(ctx context.Context, exp types.Experiment) {
	if m.db == nil {
		return
	}
	raw, err := json.Marshal(exp)
	if err != nil {
		m.log.Error().Err(err).Str("experiment", exp.ID).Msg("experiment marshal failed")
		return
	}
	if err := m.db.Set(ctx, experimentKeyPrefix+exp.ID, raw); err != nil {
		m.log.Warn().Err(err).Str("experiment", exp.ID).Msg("experiment persist failed")
	}
}

// Restore reloads persisted experiments at startup. Running experiments
// come back Paused: their routing rules and result windows died with the
// previous process, so resuming is an explicit operator action.
func (m *Manager) Restore(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	entries, err := m.db.List(ctx, experimentKeyPrefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		var exp types.Experiment
		if err := json.Unmarshal(e.Value, &exp); err != nil {
			m.log.Warn().Err(err).Str("key", e.Key).Msg("skipping undecodable experiment record")
			continue
		}
		if exp.Status == types.ExperimentRunning {
			exp.Status = types.ExperimentPaused
		}
		if _, ok := m.exps[exp.ID]; !ok {
			m.order = append(m.order, exp.ID)
		}
		m.exps[exp.ID] = &experimentState{exp: exp}
	}
	return nil
}
