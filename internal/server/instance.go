package server

import (
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// Instance is one loaded model: a backend plus lifecycle state.
//
// Locking: the per-instance RWMutex makes load/unload/evict for a model
// mutually exclusive with its in-flight predicts (predicts hold the read
// side), while predicts for different models run fully in parallel. The
// server-level mutex only ever guards the registry map itself.
type Instance struct {
	mu       sync.RWMutex
	cfg      types.ModelConfig
	backend  backend.Backend
	state    types.InstanceState
	errMsg   string
	loadedAt time.Time
	lastUsed atomic.Int64 // unix nanos
}

func (i *Instance) touch() { i.lastUsed.Store(time.Now().UnixNano()) }

func (i *Instance) lastUsedAt() time.Time { return time.Unix(0, i.lastUsed.Load()) }

// Config returns the immutable model config the instance was built from.
func (i *Instance) Config() types.ModelConfig { return i.cfg }

func (i *Instance) snapshot() (types.InstanceState, string, time.Time) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state, i.errMsg, i.loadedAt
}
