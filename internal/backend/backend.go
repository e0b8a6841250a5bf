package backend

import (
	"context"
	"fmt"

	"inferd/pkg/types"
)

// Backend is the capability that executes a model. One instance per loaded
// model; the owning instance serializes lifecycle calls, so implementations
// do not need their own locking.
type Backend interface {
	// Load prepares the backend from the model config. It must be called
	// before Predict and may be slow (artifact open, session build).
	Load(ctx context.Context, cfg types.ModelConfig) error
	// Predict runs one inference. It honors ctx cancellation.
	Predict(ctx context.Context, input map[string]any) (map[string]any, error)
	// Unload releases all resources. Safe to call more than once.
	Unload() error
	// Warmup runs n synthetic predictions to prime caches and JIT paths.
	Warmup(ctx context.Context, n int) error
}

// New constructs the backend for cfg.Backend. Adding a kind means adding a
// case here plus its implementation, not a subclass hierarchy.
func New(cfg types.ModelConfig) (Backend, error) {
	switch cfg.Backend {
	case types.BackendPyTorch:
		return &torchBackend{}, nil
	case types.BackendONNX:
		return &onnxBackend{}, nil
	case types.BackendTensorRT:
		return &tensorrtBackend{}, nil
	case types.BackendHosted:
		return &hostedBackend{}, nil
	default:
		return nil, loadFailedError{msg: fmt.Sprintf("unknown backend kind: %q", cfg.Backend)}
	}
}

// loadFailedError signals that the backend could not load the model.
type loadFailedError struct{ msg string }

func (e loadFailedError) Error() string { return "backend load failed: " + e.msg }

// IsLoadFailed reports whether err indicates a backend load failure.
func IsLoadFailed(err error) bool {
	_, ok := err.(loadFailedError)
	return ok
}

// notLoadedError signals Predict/Warmup against an unloaded backend.
type notLoadedError struct{}

func (notLoadedError) Error() string { return "backend not loaded" }

// IsNotLoaded reports whether err indicates the backend was never loaded.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}
