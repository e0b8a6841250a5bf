// Package httpapi binds the serving contract to HTTP. It is thin glue:
// decode, call the engine or its sub-managers, encode.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/pkg/types"
)

const maxBodyBytes int64 = 1 << 20

// Options tunes the HTTP layer.
type Options struct {
	AllowedOrigins []string
}

type api struct {
	svc *engine.Service
	log zerolog.Logger
}

// NewMux builds the chi router exposing the serving contract.
func NewMux(svc *engine.Service, opts Options, log zerolog.Logger) http.Handler {
	a := &api{svc: svc, log: log.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict", a.handlePredict)
		r.Post("/predict/batch", a.handleBatchPredict)

		r.Get("/status", a.handleStatus)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", a.handleListModels)
			r.Post("/", a.handleLoadModel)
			r.Get("/{id}", a.handleModelStatus)
			r.Delete("/{id}", a.handleUnloadModel)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", a.handleListExperiments)
			r.Post("/", a.handleCreateExperiment)
			r.Get("/{id}", a.handleGetExperiment)
			r.Post("/{id}/start", a.handleExperimentTransition("start"))
			r.Post("/{id}/pause", a.handleExperimentTransition("pause"))
			r.Post("/{id}/stop", a.handleExperimentTransition("stop"))
			r.Get("/{id}/analysis", a.handleAnalyzeExperiment)
		})

		r.Route("/versions", func(r chi.Router) {
			r.Post("/", a.handleRegisterVersion)
			r.Get("/{model}", a.handleListVersions)
			r.Post("/{model}/deploy", a.handleDeployVersion)
			r.Post("/{model}/canary/advance", a.handleCanaryAdvance)
			r.Post("/{model}/canary/promote", a.handleCanaryPromote)
			r.Post("/{model}/canary/abort", a.handleCanaryAbort)
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/overview", a.handleStatus)
			r.Get("/models/{id}", a.handleModelMetrics)
			r.Get("/alerts", a.handleActiveAlerts)
			r.Get("/alerts/history", a.handleAlertHistory)
			r.Post("/alerts/{id}/resolve", a.handleResolveAlert)
			r.Post("/drift/{model}/reference", a.handleDriftReference)
		})
	})
	return r
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := a.svc.Engine.SystemStatus()
	if st.LoadedCount == 0 && len(st.Models) > 0 {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "no model is ready")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req types.PredictRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.svc.Engine.Predict(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleBatchPredict(w http.ResponseWriter, r *http.Request) {
	var req types.BatchPredictRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.svc.Engine.BatchPredict(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Engine.SystemStatus())
}

func (a *api) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": a.svc.Engine.ListModels()})
}

func (a *api) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var cfg types.ModelConfig
	if !a.decode(w, r, &cfg) {
		return
	}
	if err := a.svc.Engine.LoadModel(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"model": cfg.ID, "state": string(types.StateReady)})
}

func (a *api) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Engine.UnloadModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Engine.ModelStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type createExperimentRequest struct {
	Name            string               `json:"name"`
	Variants        []types.ModelVariant `json:"variants"`
	TargetMetric    string               `json:"target_metric"`
	SuccessCriteria map[string]float64   `json:"success_criteria,omitempty"`
}

func (a *api) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if !a.decode(w, r, &req) {
		return
	}
	exp, err := a.svc.Experiments.Create(r.Context(), req.Name, req.Variants, req.TargetMetric, req.SuccessCriteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

func (a *api) handleListExperiments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"experiments": a.svc.Experiments.List()})
}

func (a *api) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := a.svc.Experiments.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (a *api) handleExperimentTransition(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var err error
		switch op {
		case "start":
			err = a.svc.Experiments.Start(r.Context(), id)
		case "pause":
			err = a.svc.Experiments.Pause(r.Context(), id)
		case "stop":
			err = a.svc.Experiments.Stop(r.Context(), id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		exp, _ := a.svc.Experiments.Get(id)
		writeJSON(w, http.StatusOK, exp)
	}
}

func (a *api) handleAnalyzeExperiment(w http.ResponseWriter, r *http.Request) {
	an, err := a.svc.Experiments.Analyze(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

type registerVersionRequest struct {
	Config   types.ModelConfig    `json:"config"`
	Strategy types.DeployStrategy `json:"strategy"`
}

func (a *api) handleRegisterVersion(w http.ResponseWriter, r *http.Request) {
	var req registerVersionRequest
	if !a.decode(w, r, &req) {
		return
	}
	v, err := a.svc.Versions.Register(r.Context(), req.Config, req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *api) handleListVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": a.svc.Versions.List(chi.URLParam(r, "model"))})
}

func (a *api) handleDeployVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version string `json:"version"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.svc.Versions.Deploy(r.Context(), chi.URLParam(r, "model"), req.Version); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleCanaryAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent float64 `json:"percent"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.svc.Versions.AdvanceCanary(r.Context(), chi.URLParam(r, "model"), req.Percent); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleCanaryPromote(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Versions.PromoteCanary(r.Context(), chi.URLParam(r, "model")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleCanaryAbort(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Versions.AbortCanary(r.Context(), chi.URLParam(r, "model")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, a.svc.Monitor.Stats(id))
}

func (a *api) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": a.svc.Alerts.Active(r.URL.Query().Get("model"))})
}

func (a *api) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			hours = v
		}
	}
	alerts := a.svc.Alerts.History(r.URL.Query().Get("model"), time.Duration(hours)*time.Hour)
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *api) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if !a.svc.Alerts.Resolve(r.Context(), chi.URLParam(r, "id")) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no active alert with that id")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) handleDriftReference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Samples []map[string]float64 `json:"samples"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Samples) == 0 {
		writeJSONError(w, http.StatusBadRequest, "validation_failed", "empty baseline sample set")
		return
	}
	a.svc.Monitor.SetDriftReference(chi.URLParam(r, "model"), req.Samples)
	w.WriteHeader(http.StatusOK)
}
