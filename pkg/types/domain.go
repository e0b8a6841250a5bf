package types

import "time"

// Task identifies the kind of work a model performs. The engine uses it to
// pick a default model and to post-process raw backend output.
type Task string

const (
	TaskSentiment      Task = "sentiment"
	TaskClassification Task = "classification"
	TaskGeneration     Task = "generation"
	TaskEmbedding      Task = "embedding"
)

// BackendKind selects the concrete inference backend implementation.
type BackendKind string

const (
	BackendPyTorch  BackendKind = "pytorch"
	BackendONNX     BackendKind = "onnx"
	BackendTensorRT BackendKind = "tensorrt"
	BackendHosted   BackendKind = "hosted"
)

// ModelConfig describes one servable model. It is immutable once an
// instance has been built from it.
type ModelConfig struct {
	// Unique model identifier, e.g. "sentiment-v1".
	ID string `json:"id" yaml:"id" toml:"id"`
	// Backend kind that executes this model.
	Backend BackendKind `json:"backend" yaml:"backend" toml:"backend"`
	// Path or locator of the model artifact.
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path" toml:"artifact_path"`
	// Version string, e.g. "1.4.2".
	Version string `json:"version" yaml:"version" toml:"version"`
	// Task this model serves.
	Task Task `json:"task" yaml:"task" toml:"task"`
	// Maximum batch size the backend accepts.
	MaxBatchSize int `json:"max_batch_size,omitempty" yaml:"max_batch_size" toml:"max_batch_size"`
	// Maximum input sequence length.
	MaxSequenceLength int `json:"max_sequence_length,omitempty" yaml:"max_sequence_length" toml:"max_sequence_length"`
	// TTL for cached predictions of this model. Zero means the server default.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl" toml:"cache_ttl"`
	// Numeric precision, e.g. "fp16".
	Precision string `json:"precision,omitempty" yaml:"precision" toml:"precision"`
	// Class labels for classification tasks, in score-vector order.
	Labels []string `json:"labels,omitempty" yaml:"labels" toml:"labels"`
	// Free-form metadata.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata" toml:"metadata"`
}

// InstanceState is the lifecycle state of a loaded model instance.
type InstanceState string

const (
	StateUnloaded InstanceState = "unloaded"
	StateLoading  InstanceState = "loading"
	StateReady    InstanceState = "ready"
	StateError    InstanceState = "error"
)

// AlertSeverity buckets alerts for display and paging decisions.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertMetric names the metric that tripped an alert.
type AlertMetric string

const (
	MetricLatencyP95 AlertMetric = "latency_p95"
	MetricErrorRate  AlertMetric = "error_rate"
	MetricCPU        AlertMetric = "cpu_percent"
	MetricMemory     AlertMetric = "memory_percent"
	MetricDrift      AlertMetric = "drift_score"
)

// Alert records one threshold breach for a (model, metric) pair.
type Alert struct {
	ID         string        `json:"id"`
	ModelID    string        `json:"model_id"`
	Metric     AlertMetric   `json:"metric"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	CreatedAt  time.Time     `json:"created_at"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt time.Time     `json:"resolved_at,omitempty"`
}

// ExperimentStatus is the lifecycle state of an A/B experiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentFailed    ExperimentStatus = "failed"
)

// ModelVariant is one candidate configuration competing in an experiment.
type ModelVariant struct {
	ID             string            `json:"id"`
	Config         ModelConfig       `json:"config"`
	TrafficPercent float64           `json:"traffic_percent"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Experiment is the persisted view of an A/B test.
type Experiment struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Variants        []ModelVariant     `json:"variants"`
	Status          ExperimentStatus   `json:"status"`
	StartTime       time.Time          `json:"start_time,omitempty"`
	EndTime         time.Time          `json:"end_time,omitempty"`
	TargetMetric    string             `json:"target_metric"`
	SuccessCriteria map[string]float64 `json:"success_criteria,omitempty"`
}

// VariantSummary aggregates recorded results for one experiment variant.
type VariantSummary struct {
	VariantID  string  `json:"variant_id"`
	ModelID    string  `json:"model_id"`
	SampleSize int     `json:"sample_size"`
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

// ExperimentAnalysis is the outcome of analyzing a finished or running experiment.
type ExperimentAnalysis struct {
	ExperimentID string           `json:"experiment_id"`
	TargetMetric string           `json:"target_metric"`
	Variants     []VariantSummary `json:"variants"`
	Winner       string           `json:"winner,omitempty"`
}

// DeployStrategy selects how a new model version replaces the active one.
type DeployStrategy string

const (
	DeployBlueGreen DeployStrategy = "blue_green"
	DeployCanary    DeployStrategy = "canary"
	DeployRolling   DeployStrategy = "rolling"
)

// VersionStatus tracks a registered model version through deployment.
type VersionStatus string

const (
	VersionRegistered VersionStatus = "registered"
	VersionCanary     VersionStatus = "canary"
	VersionActive     VersionStatus = "active"
	VersionRetired    VersionStatus = "retired"
)

// ModelVersion is one registered version of a model.
type ModelVersion struct {
	ModelID      string         `json:"model_id"`
	Version      string         `json:"version"`
	Config       ModelConfig    `json:"config"`
	Strategy     DeployStrategy `json:"strategy"`
	Status       VersionStatus  `json:"status"`
	Checksum     string         `json:"checksum,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
}
