// Package version tracks registered model versions and applies
// deployment strategies when a new version replaces the active one.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/router"
	"inferd/internal/store"
	"inferd/pkg/types"
)

const versionKeyPrefix = "version:"

// canaryEndpoint names the routing rule for an in-progress canary of a
// model id.
func canaryEndpoint(modelID string) string { return "canary/" + modelID }

// ModelLoader is what deployment needs from the model server.
type ModelLoader interface {
	LoadModel(ctx context.Context, cfg types.ModelConfig) error
	UnloadModel(ctx context.Context, id string) error
	IsLoaded(id string) bool
}

// validationError rejects a malformed registration or deploy request.
type validationError struct{ msg string }

func (e validationError) Error() string { return "invalid version: " + e.msg }

// IsValidation reports whether err is a version validation rejection.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// canary tracks one in-progress canary rollout for a model id.
type canary struct {
	candidate string  // version string of the candidate
	percent   float64 // share of traffic on the candidate
}

// Manager is the registry of model versions. At most one version per
// model id is active at a time.
type Manager struct {
	mu       sync.RWMutex
	versions map[string]map[string]*types.ModelVersion // model id -> version -> record
	active   map[string]string                         // model id -> active version
	canaries map[string]*canary

	models ModelLoader
	router *router.Router
	db     store.DurableStore
	log    zerolog.Logger
}

func NewManager(models ModelLoader, rt *router.Router, db store.DurableStore, log zerolog.Logger) *Manager {
	return &Manager{
		versions: make(map[string]map[string]*types.ModelVersion),
		active:   make(map[string]string),
		canaries: make(map[string]*canary),
		models:   models,
		router:   rt,
		db:       db,
		log:      log.With().Str("component", "versions").Logger(),
	}
}

// Register records a new (model, version) pair. Duplicates are rejected.
// The artifact checksum is computed when the artifact is a readable file.
func (m *Manager) Register(ctx context.Context, cfg types.ModelConfig, strategy types.DeployStrategy) (types.ModelVersion, error) {
	if cfg.ID == "" || cfg.Version == "" {
		return types.ModelVersion{}, validationError{msg: "model id and version are required"}
	}
	switch strategy {
	case types.DeployBlueGreen, types.DeployCanary:
	case types.DeployRolling:
		return types.ModelVersion{}, validationError{msg: "rolling deployment is not supported"}
	default:
		return types.ModelVersion{}, validationError{msg: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	v := types.ModelVersion{
		ModelID:      cfg.ID,
		Version:      cfg.Version,
		Config:       cfg,
		Strategy:     strategy,
		Status:       types.VersionRegistered,
		Checksum:     checksumFile(cfg.ArtifactPath),
		RegisteredAt: time.Now(),
	}

	m.mu.Lock()
	byVersion, ok := m.versions[cfg.ID]
	if !ok {
		byVersion = make(map[string]*types.ModelVersion)
		m.versions[cfg.ID] = byVersion
	}
	if _, dup := byVersion[cfg.Version]; dup {
		m.mu.Unlock()
		return types.ModelVersion{}, validationError{msg: fmt.Sprintf("version %s of %s already registered", cfg.Version, cfg.ID)}
	}
	cp := v
	byVersion[cfg.Version] = &cp
	m.mu.Unlock()

	m.persist(ctx, v)
	return v, nil
}

// Deploy applies the version's strategy. Blue-green loads the candidate,
// swaps the active pointer atomically, and unloads the previous version.
// Canary starts a staged rollout instead; see AdvanceCanary.
func (m *Manager) Deploy(ctx context.Context, modelID, version string) error {
	m.mu.RLock()
	rec, ok := m.versions[modelID][version]
	m.mu.RUnlock()
	if !ok {
		return validationError{msg: fmt.Sprintf("version %s of %s is not registered", version, modelID)}
	}

	switch rec.Strategy {
	case types.DeployBlueGreen:
		return m.deployBlueGreen(ctx, rec)
	case types.DeployCanary:
		return m.startCanary(ctx, rec, 10)
	default:
		return validationError{msg: fmt.Sprintf("strategy %q cannot be deployed", rec.Strategy)}
	}
}

func (m *Manager) deployBlueGreen(ctx context.Context, rec *types.ModelVersion) error {
	cfg := rec.Config
	cfg.ID = servingID(rec.ModelID, rec.Version)
	if !m.models.IsLoaded(cfg.ID) {
		if err := m.models.LoadModel(ctx, cfg); err != nil {
			return fmt.Errorf("deploy %s@%s: %w", rec.ModelID, rec.Version, err)
		}
	}

	m.mu.Lock()
	prevVersion := m.active[rec.ModelID]
	m.active[rec.ModelID] = rec.Version
	rec.Status = types.VersionActive
	var prevRec *types.ModelVersion
	if prevVersion != "" {
		if p, ok := m.versions[rec.ModelID][prevVersion]; ok {
			p.Status = types.VersionRetired
			prevRec = p
		}
	}
	m.mu.Unlock()

	if prevVersion != "" && prevVersion != rec.Version {
		if err := m.models.UnloadModel(ctx, servingID(rec.ModelID, prevVersion)); err != nil {
			m.log.Warn().Err(err).Str("model", rec.ModelID).Str("version", prevVersion).Msg("previous version unload failed")
		}
	}
	m.persist(ctx, *rec)
	if prevRec != nil {
		m.persist(ctx, *prevRec)
	}
	m.log.Info().Str("model", rec.ModelID).Str("version", rec.Version).Msg("blue-green deploy complete")
	return nil
}

// startCanary loads the candidate alongside the active version and
// installs a weighted routing rule sending initialPercent of traffic to
// the candidate.
func (m *Manager) startCanary(ctx context.Context, rec *types.ModelVersion, initialPercent float64) error {
	m.mu.RLock()
	activeVersion := m.active[rec.ModelID]
	m.mu.RUnlock()
	if activeVersion == "" {
		// First deploy has nothing to canary against; promote directly.
		return m.deployBlueGreen(ctx, rec)
	}
	if activeVersion == rec.Version {
		return validationError{msg: fmt.Sprintf("version %s of %s is already active", rec.Version, rec.ModelID)}
	}

	cfg := rec.Config
	cfg.ID = servingID(rec.ModelID, rec.Version)
	if !m.models.IsLoaded(cfg.ID) {
		if err := m.models.LoadModel(ctx, cfg); err != nil {
			return fmt.Errorf("canary %s@%s: %w", rec.ModelID, rec.Version, err)
		}
	}
	if err := m.setCanaryRule(rec.ModelID, activeVersion, rec.Version, initialPercent); err != nil {
		return err
	}

	m.mu.Lock()
	m.canaries[rec.ModelID] = &canary{candidate: rec.Version, percent: initialPercent}
	rec.Status = types.VersionCanary
	m.mu.Unlock()
	m.persist(ctx, *rec)
	m.log.Info().Str("model", rec.ModelID).Str("version", rec.Version).Float64("percent", initialPercent).Msg("canary started")
	return nil
}

// AdvanceCanary moves the candidate's traffic share to percent. Reaching
// 100 promotes the candidate.
func (m *Manager) AdvanceCanary(ctx context.Context, modelID string, percent float64) error {
	if percent <= 0 || percent > 100 {
		return validationError{msg: fmt.Sprintf("canary percent must be in (0,100], got %.2f", percent)}
	}
	m.mu.Lock()
	c, ok := m.canaries[modelID]
	if !ok {
		m.mu.Unlock()
		return validationError{msg: "no canary in progress for " + modelID}
	}
	activeVersion := m.active[modelID]
	c.percent = percent
	candidate := c.candidate
	m.mu.Unlock()

	if percent >= 100 {
		return m.PromoteCanary(ctx, modelID)
	}
	if err := m.setCanaryRule(modelID, activeVersion, candidate, percent); err != nil {
		return err
	}
	m.log.Info().Str("model", modelID).Float64("percent", percent).Msg("canary advanced")
	return nil
}

// PromoteCanary completes the rollout: the candidate becomes the active
// version, the canary rule is removed, and the old version unloads.
func (m *Manager) PromoteCanary(ctx context.Context, modelID string) error {
	m.mu.Lock()
	c, ok := m.canaries[modelID]
	if !ok {
		m.mu.Unlock()
		return validationError{msg: "no canary in progress for " + modelID}
	}
	delete(m.canaries, modelID)
	rec := m.versions[modelID][c.candidate]
	m.mu.Unlock()

	m.router.RemoveRule(canaryEndpoint(modelID))
	if rec == nil {
		return validationError{msg: "canary candidate vanished for " + modelID}
	}
	return m.deployBlueGreen(ctx, rec)
}

// AbortCanary rolls back: candidate unloads, the active version keeps
// all traffic.
func (m *Manager) AbortCanary(ctx context.Context, modelID string) error {
	m.mu.Lock()
	c, ok := m.canaries[modelID]
	if !ok {
		m.mu.Unlock()
		return validationError{msg: "no canary in progress for " + modelID}
	}
	delete(m.canaries, modelID)
	rec := m.versions[modelID][c.candidate]
	if rec != nil {
		rec.Status = types.VersionRegistered
	}
	m.mu.Unlock()

	m.router.RemoveRule(canaryEndpoint(modelID))
	if err := m.models.UnloadModel(ctx, servingID(modelID, c.candidate)); err != nil {
		m.log.Warn().Err(err).Str("model", modelID).Msg("canary candidate unload failed")
	}
	if rec != nil {
		m.persist(ctx, *rec)
	}
	m.log.Info().Str("model", modelID).Str("version", c.candidate).Msg("canary aborted")
	return nil
}

// ResolveServing maps a logical model id to the serving id the request
// should hit: the canary rule when one is in progress, else the active
// version, else the id itself.
func (m *Manager) ResolveServing(modelID, userID string) string {
	m.mu.RLock()
	_, canarying := m.canaries[modelID]
	activeVersion := m.active[modelID]
	m.mu.RUnlock()

	if canarying {
		if sid, err := m.router.Route(canaryEndpoint(modelID), userID); err == nil {
			return sid
		}
	}
	if activeVersion != "" {
		return servingID(modelID, activeVersion)
	}
	return modelID
}

// Active returns the currently active version record, if any.
func (m *Manager) Active(modelID string) (types.ModelVersion, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.active[modelID]
	if v == "" {
		return types.ModelVersion{}, false
	}
	rec, ok := m.versions[modelID][v]
	if !ok {
		return types.ModelVersion{}, false
	}
	return *rec, true
}

// List returns all registered versions for a model id.
func (m *Manager) List(modelID string) []types.ModelVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelVersion, 0, len(m.versions[modelID]))
	for _, rec := range m.versions[modelID] {
		out = append(out, *rec)
	}
	return out
}

func (m *Manager) setCanaryRule(modelID, activeVersion, candidateVersion string, candidatePercent float64) error {
	w := candidatePercent / 100
	return m.router.AddRule(canaryEndpoint(modelID), []router.VariantWeight{
		{VariantID: servingID(modelID, activeVersion), Weight: 1 - w},
		{VariantID: servingID(modelID, candidateVersion), Weight: w},
	})
}

// servingID is the instance id a given (model, version) pair serves
// under, so two versions can be loaded side by side.
func servingID(modelID, version string) string { return modelID + "@" + version }

func checksumFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Manager) persist(ctx context.Context, v types.ModelVersion) {
	if m.db == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		m.log.Error().Err(err).Str("model", v.ModelID).Msg("version marshal failed")
		return
	}
	key := versionKeyPrefix + v.ModelID + "@" + v.Version
	if err := m.db.Set(ctx, key, raw); err != nil {
		m.log.Warn().Err(err).Str("model", v.ModelID).Msg("version persist failed")
	}
}

// Restore reloads persisted version records. Canary state is not
// restored; an interrupted canary must be restarted explicitly.
func (m *Manager) Restore(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	entries, err := m.db.List(ctx, versionKeyPrefix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		var v types.ModelVersion
		if err := json.Unmarshal(e.Value, &v); err != nil {
			m.log.Warn().Err(err).Str("key", e.Key).Msg("skipping undecodable version record")
			continue
		}
		if v.Status == types.VersionCanary {
			v.Status = types.VersionRegistered
		}
		byVersion, ok := m.versions[v.ModelID]
		if !ok {
			byVersion = make(map[string]*types.ModelVersion)
			m.versions[v.ModelID] = byVersion
		}
		cp := v
		byVersion[v.Version] = &cp
		if v.Status == types.VersionActive {
			m.active[v.ModelID] = v.Version
		}
	}
	return nil
}
