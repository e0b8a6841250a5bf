// Package engine is the top-level facade external callers use: it
// resolves models, chooses the experiment or direct path, and shapes raw
// backend output into the uniform response envelope.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/experiment"
	"inferd/internal/monitor"
	"inferd/internal/server"
	"inferd/internal/version"
	"inferd/pkg/types"
)

// validationError rejects a malformed request before any work happens.
type validationError struct{ msg string }

func (e validationError) Error() string { return "invalid request: " + e.msg }

// IsValidation reports whether err is a request validation rejection.
func IsValidation(err error) bool {
	_, ok := err.(validationError)
	return ok
}

// Engine glues the serving subsystems together behind one API.
type Engine struct {
	server   *server.Server
	exps     *experiment.Manager
	versions *version.Manager
	monitor  *monitor.Monitor
	alerts   *monitor.AlertManager
	defaults map[types.Task]string
	log      zerolog.Logger
}

func New(srv *server.Server, exps *experiment.Manager, vers *version.Manager, mon *monitor.Monitor, alerts *monitor.AlertManager, defaults map[types.Task]string, log zerolog.Logger) *Engine {
	if defaults == nil {
		defaults = map[types.Task]string{}
	}
	return &Engine{
		server:   srv,
		exps:     exps,
		versions: vers,
		monitor:  mon,
		alerts:   alerts,
		defaults: defaults,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Predict serves one request.
func (e *Engine) Predict(ctx context.Context, req types.PredictRequest) (types.PredictResponse, error) {
	if len(req.Input) == 0 {
		return types.PredictResponse{}, validationError{msg: "empty input"}
	}
	modelID, err := e.resolveModel(req)
	if err != nil {
		return types.PredictResponse{}, err
	}

	resp := types.PredictResponse{RequestID: uuid.NewString()}
	useCache := req.CacheEnabled()
	start := time.Now()

	var res server.PredictResult
	if req.Experiment != "" {
		routed, rerr := e.exps.RoutePrediction(ctx, req.Experiment, req.Input, req.UserID, modelID, useCache)
		if rerr != nil {
			return resp, rerr
		}
		res = routed.Result
		if !routed.Fallback {
			resp.Experiment = req.Experiment
			resp.Variant = routed.VariantID
		}
	} else {
		res, err = e.server.Predict(ctx, modelID, req.Input, useCache)
		if err != nil {
			return resp, err
		}
	}

	resp.Model = res.Config.ID
	resp.Version = res.Config.Version
	resp.FromCache = res.FromCache
	resp.LatencySeconds = time.Since(start).Seconds()
	postprocess(&resp, res.Config, res.Output, res.Raw)
	return resp, nil
}

// resolveModel picks the serving model id: the explicit request model,
// else the configured default for the task, both mapped through the
// version manager so active versions and canaries take effect.
func (e *Engine) resolveModel(req types.PredictRequest) (string, error) {
	id := req.Model
	if id == "" {
		id = e.defaults[req.Task]
	}
	if id == "" {
		return "", validationError{msg: fmt.Sprintf("no model for task %q and none specified", req.Task)}
	}
	if e.versions != nil {
		id = e.versions.ResolveServing(id, req.UserID)
	}
	return id, nil
}

// LoadModel exposes model lifecycle through the facade.
func (e *Engine) LoadModel(ctx context.Context, cfg types.ModelConfig) error {
	return e.server.LoadModel(ctx, cfg)
}

func (e *Engine) UnloadModel(ctx context.Context, id string) error {
	return e.server.UnloadModel(ctx, id)
}

func (e *Engine) ModelStatus(id string) (types.ModelStatus, error) {
	return e.server.Status(id)
}

func (e *Engine) ListModels() []types.ModelStatus {
	return e.server.StatusAll()
}

// SystemStatus aggregates the health view across all subsystems.
func (e *Engine) SystemStatus() types.StatusResponse {
	models := e.server.StatusAll()
	loaded := 0
	for _, m := range models {
		if m.State == types.StateReady {
			loaded++
		}
	}
	cpu, mem := e.monitor.Resources()
	return types.StatusResponse{
		Models:       models,
		LoadedCount:  loaded,
		ActiveAlerts: len(e.alerts.Active("")),
		Experiments:  e.exps.RunningCount(),
		CPUPercent:   cpu,
		MemPercent:   mem,
	}
}
