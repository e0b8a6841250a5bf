package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/store"
	"inferd/pkg/types"
)

const alertKeyPrefix = "alert:"

// AlertManager deduplicates, persists and resolves threshold alerts.
// A new alert for a (model, metric) pair supersedes the unresolved one;
// alerts are otherwise resolved only explicitly.
type AlertManager struct {
	mu      sync.RWMutex
	active  map[string]*types.Alert // keyed by model|metric
	history []types.Alert
	db      store.DurableStore
	log     zerolog.Logger
}

func NewAlertManager(db store.DurableStore, log zerolog.Logger) *AlertManager {
	return &AlertManager{
		active: make(map[string]*types.Alert),
		db:     db,
		log:    log.With().Str("component", "alerts").Logger(),
	}
}

func alertKey(modelID string, metric types.AlertMetric) string {
	return modelID + "|" + string(metric)
}

// Create raises a new alert, superseding any unresolved alert for the
// same (model, metric). Returns the stored alert with its assigned id.
func (a *AlertManager) Create(ctx context.Context, alert types.Alert) types.Alert {
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now()
	alert.Resolved = false

	key := alertKey(alert.ModelID, alert.Metric)
	a.mu.Lock()
	if prev, ok := a.active[key]; ok {
		prev.Resolved = true
		prev.ResolvedAt = alert.CreatedAt
		for i := range a.history {
			if a.history[i].ID == prev.ID {
				a.history[i] = *prev
			}
		}
		a.persistLocked(ctx, *prev)
	}
	cp := alert
	a.active[key] = &cp
	a.history = append(a.history, alert)
	a.persistLocked(ctx, alert)
	a.mu.Unlock()

	a.log.Warn().
		Str("model", alert.ModelID).
		Str("metric", string(alert.Metric)).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg(alert.Message)
	return alert
}

// Resolve marks an active alert resolved. Unknown ids are a no-op
// returning false.
func (a *AlertManager) Resolve(ctx context.Context, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, alert := range a.active {
		if alert.ID != id {
			continue
		}
		alert.Resolved = true
		alert.ResolvedAt = time.Now()
		a.persistLocked(ctx, *alert)
		for i := range a.history {
			if a.history[i].ID == id {
				a.history[i] = *alert
			}
		}
		delete(a.active, key)
		return true
	}
	return false
}

// Active returns unresolved alerts, optionally filtered by model id.
func (a *AlertManager) Active(modelID string) []types.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Alert, 0, len(a.active))
	for _, alert := range a.active {
		if modelID == "" || alert.ModelID == modelID {
			out = append(out, *alert)
		}
	}
	return out
}

// History returns alerts created within the last `within` duration,
// optionally filtered by model id.
func (a *AlertManager) History(modelID string, within time.Duration) []types.Alert {
	cutoff := time.Now().Add(-within)
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Alert, 0)
	for _, alert := range a.history {
		if alert.CreatedAt.Before(cutoff) {
			continue
		}
		if modelID == "" || alert.ModelID == modelID {
			out = append(out, alert)
		}
	}
	return out
}

// persistLocked writes an alert to the durable store. Failures are logged;
// the alert stays effective in memory.
func (a *AlertManager) persistLocked(ctx context.Context, alert types.Alert) {
	if a.db == nil {
		return
	}
	raw, err := json.Marshal(alert)
	if err != nil {
		a.log.Error().Err(err).Str("alert", alert.ID).Msg("alert marshal failed")
		return
	}
	if err := a.db.Set(ctx, alertKeyPrefix+alert.ID, raw); err != nil {
		a.log.Warn().Err(err).Str("alert", alert.ID).Msg("alert persist failed")
	}
}
