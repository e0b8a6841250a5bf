package types

import (
	"encoding/json"
	"time"
)

// PredictRequest is an inference request as seen by the engine facade.
type PredictRequest struct {
	// Task kind; used to pick a default model when Model is empty.
	Task Task `json:"task"`
	// Arbitrary JSON input, e.g. {"text": "great product"}.
	Input map[string]any `json:"input"`
	// Optional explicit model id overriding the task default.
	Model string `json:"model,omitempty"`
	// Optional experiment id to route through A/B testing.
	Experiment string `json:"experiment,omitempty"`
	// Stable caller identity for sticky experiment routing.
	UserID string `json:"user_id,omitempty"`
	// Consult the prediction cache. Defaults to true at the HTTP boundary.
	UseCache *bool `json:"use_cache,omitempty"`
}

// CacheEnabled reports whether the request opts into the cache.
func (r PredictRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// PredictResponse is the uniform response envelope for a single prediction.
type PredictResponse struct {
	RequestID      string          `json:"request_id"`
	Predictions    json.RawMessage `json:"predictions"`
	Label          string          `json:"label,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	Model          string          `json:"model"`
	Version        string          `json:"version,omitempty"`
	LatencySeconds float64         `json:"latency_seconds"`
	FromCache      bool            `json:"from_cache"`
	Experiment     string          `json:"experiment,omitempty"`
	Variant        string          `json:"variant,omitempty"`
}

// BatchPredictRequest carries many inputs processed with per-item isolation.
type BatchPredictRequest struct {
	Task      Task             `json:"task"`
	Items     []map[string]any `json:"items"`
	Model     string           `json:"model,omitempty"`
	BatchSize int              `json:"batch_size,omitempty"`
	UseCache  *bool            `json:"use_cache,omitempty"`
}

// BatchItemResult is one entry of a batch response; exactly one of
// Response or Error is set.
type BatchItemResult struct {
	Index    int              `json:"index"`
	Response *PredictResponse `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// BatchPredictResponse summarizes a batch run.
type BatchPredictResponse struct {
	RequestID           string            `json:"request_id"`
	Results             []BatchItemResult `json:"results"`
	TotalItems          int               `json:"total_items"`
	SuccessfulItems     int               `json:"successful_items"`
	FailedItems         int               `json:"failed_items"`
	BatchLatencySeconds float64           `json:"batch_latency_seconds"`
}

// ModelStats is the derived metrics view for one model.
type ModelStats struct {
	Requests      int64   `json:"requests"`
	Errors        int64   `json:"errors"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatency    float64 `json:"avg_latency_seconds"`
	P95Latency    float64 `json:"p95_latency_seconds"`
	Throughput    float64 `json:"throughput_rps"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	DriftScore    float64 `json:"drift_score,omitempty"`
	Drifting      bool    `json:"drifting,omitempty"`
}

// ModelStatus is the status snapshot of one loaded model.
type ModelStatus struct {
	ModelID  string        `json:"model_id"`
	State    InstanceState `json:"state"`
	Version  string        `json:"version,omitempty"`
	Error    string        `json:"error,omitempty"`
	LastUsed time.Time     `json:"last_used,omitempty"`
	LoadedAt time.Time     `json:"loaded_at,omitempty"`
	Stats    ModelStats    `json:"stats"`
}

// StatusResponse is the aggregate view returned by /status.
type StatusResponse struct {
	Models       []ModelStatus `json:"models"`
	LoadedCount  int           `json:"loaded_count"`
	ActiveAlerts int           `json:"active_alerts"`
	Experiments  int           `json:"running_experiments"`
	CPUPercent   float64       `json:"cpu_percent"`
	MemPercent   float64       `json:"memory_percent"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code"`
}
