package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// Event is one observed request, emitted by the model server per predict.
type Event struct {
	ModelID  string
	Latency  time.Duration
	Err      bool
	CacheHit bool
	Accuracy *float64
	// Raw request input for drift scoring; nil skips the drift path.
	Input map[string]any
}

// Thresholds configures the periodic alert checks. Zero disables the
// corresponding check.
type Thresholds struct {
	P95LatencySeconds float64 `json:"p95_latency_seconds" yaml:"p95_latency_seconds" toml:"p95_latency_seconds"`
	ErrorRate         float64 `json:"error_rate" yaml:"error_rate" toml:"error_rate"`
	CPUPercent        float64 `json:"cpu_percent" yaml:"cpu_percent" toml:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent" yaml:"memory_percent" toml:"memory_percent"`
	DriftScore        float64 `json:"drift_score" yaml:"drift_score" toml:"drift_score"`
}

// Options tunes the monitor; zero values fall back to defaults.
type Options struct {
	WindowSize    int
	DriftWindow   int
	CheckInterval time.Duration
	SampleInterval time.Duration
	Thresholds    Thresholds
}

// Monitor ingests request events, tracks per-model windows and drift,
// samples host resources, and raises alerts through the AlertManager.
type Monitor struct {
	mu      sync.RWMutex
	models  map[string]*modelWindow
	drift   map[string]*DriftDetector
	cpu     *boundedFloats
	mem     *boundedFloats
	gpu     *boundedFloats

	opts    Options
	alerts  *AlertManager
	sampler ResourceSampler
	log     zerolog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(alerts *AlertManager, sampler ResourceSampler, opts Options, log zerolog.Logger) *Monitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Minute
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultWindowSize
	}
	if sampler == nil {
		sampler = NewProcSampler()
	}
	return &Monitor{
		models:  make(map[string]*modelWindow),
		drift:   make(map[string]*DriftDetector),
		cpu:     newBoundedFloats(120),
		mem:     newBoundedFloats(120),
		gpu:     newBoundedFloats(120),
		opts:    opts,
		alerts:  alerts,
		sampler: sampler,
		log:     log.With().Str("component", "monitor").Logger(),
		done:    make(chan struct{}),
	}
}

// Start launches the periodic threshold-check and resource-sampling loops.
func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.loop(m.opts.CheckInterval, m.checkThresholds)
	go m.loop(m.opts.SampleInterval, m.sampleResources)
}

// Stop terminates the background loops and waits for them.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Monitor) loop(every time.Duration, tick func(context.Context)) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			tick(ctx)
			cancel()
		case <-m.done:
			return
		}
	}
}

// Observe records one request event. Implements the server's event sink.
func (m *Monitor) Observe(e Event) {
	m.mu.Lock()
	w, ok := m.models[e.ModelID]
	if !ok {
		w = newModelWindow(m.opts.WindowSize)
		m.models[e.ModelID] = w
	}
	w.record(sample{
		at:       time.Now(),
		latency:  e.Latency.Seconds(),
		err:      e.Err,
		cacheHit: e.CacheHit,
	})
	d := m.drift[e.ModelID]
	m.mu.Unlock()

	outcome := "ok"
	if e.Err {
		outcome = "error"
	}
	predictionsTotal.WithLabelValues(e.ModelID, outcome).Inc()
	if e.CacheHit {
		cacheHitsTotal.WithLabelValues(e.ModelID).Inc()
	}

	if d != nil && e.Input != nil && !e.CacheHit {
		feats := NumericFeatures(e.Input)
		m.mu.Lock()
		if score, computed := d.CheckDrift(feats); computed {
			driftScore.WithLabelValues(e.ModelID).Set(score)
		}
		m.mu.Unlock()
	}
}

// SetDriftReference installs a drift baseline for a model, replacing any
// previous detector.
func (m *Monitor) SetDriftReference(modelID string, baseline []map[string]float64) {
	d := NewDriftDetector(m.opts.Thresholds.DriftScore, m.opts.DriftWindow)
	d.SetReference(baseline)
	m.mu.Lock()
	m.drift[modelID] = d
	m.mu.Unlock()
}

// Forget drops all state for a model; called when the model is unloaded.
func (m *Monitor) Forget(modelID string) {
	m.mu.Lock()
	delete(m.models, modelID)
	delete(m.drift, modelID)
	m.mu.Unlock()
}

// Stats returns the derived metrics for one model.
func (m *Monitor) Stats(modelID string) types.ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st types.ModelStats
	if w, ok := m.models[modelID]; ok {
		st = w.stats()
	}
	if d, ok := m.drift[modelID]; ok {
		st.DriftScore = d.Score()
		st.Drifting = d.IsDrifting()
	}
	return st
}

// Resources reports the latest host utilization readings.
func (m *Monitor) Resources() (cpu, mem float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpu.last(), m.mem.last()
}

func (m *Monitor) sampleResources(context.Context) {
	if v, ok := m.sampler.CPUPercent(); ok {
		m.mu.Lock()
		m.cpu.push(v)
		m.mu.Unlock()
	}
	if v, ok := m.sampler.MemoryPercent(); ok {
		m.mu.Lock()
		m.mem.push(v)
		m.mu.Unlock()
	}
	if v, ok := m.sampler.GPUPercent(); ok {
		m.mu.Lock()
		m.gpu.push(v)
		m.mu.Unlock()
	}
}

// checkThresholds runs the per-model and host checks and raises alerts.
// A return to normal does not resolve the standing alert; resolution is
// explicit or by supersession.
func (m *Monitor) checkThresholds(ctx context.Context) {
	th := m.opts.Thresholds

	m.mu.RLock()
	type modelCheck struct {
		id        string
		p95       float64
		errRate   float64
		drift     float64
		drifting  bool
		hasDrift  bool
	}
	checks := make([]modelCheck, 0, len(m.models))
	for id, w := range m.models {
		c := modelCheck{id: id}
		st := w.stats()
		c.p95 = st.P95Latency
		c.errRate = w.windowErrorRate()
		if d, ok := m.drift[id]; ok {
			c.drift = d.Score()
			c.drifting = d.IsDrifting()
			c.hasDrift = true
		}
		checks = append(checks, c)
	}
	cpu, mem := m.cpu.last(), m.mem.last()
	m.mu.RUnlock()

	for _, c := range checks {
		if th.P95LatencySeconds > 0 && c.p95 > th.P95LatencySeconds {
			m.raise(ctx, c.id, types.MetricLatencyP95, types.SeverityWarning, c.p95, th.P95LatencySeconds)
		}
		if th.ErrorRate > 0 && c.errRate > th.ErrorRate {
			m.raise(ctx, c.id, types.MetricErrorRate, types.SeverityCritical, c.errRate, th.ErrorRate)
		}
		if th.DriftScore > 0 && c.hasDrift && c.drifting {
			m.raise(ctx, c.id, types.MetricDrift, types.SeverityWarning, c.drift, th.DriftScore)
		}
	}
	if th.CPUPercent > 0 && cpu > th.CPUPercent {
		m.raise(ctx, "", types.MetricCPU, types.SeverityWarning, cpu, th.CPUPercent)
	}
	if th.MemoryPercent > 0 && mem > th.MemoryPercent {
		m.raise(ctx, "", types.MetricMemory, types.SeverityWarning, mem, th.MemoryPercent)
	}
	activeAlerts.Set(float64(len(m.alerts.Active(""))))
}

func (m *Monitor) raise(ctx context.Context, modelID string, metric types.AlertMetric, sev types.AlertSeverity, value, threshold float64) {
	m.alerts.Create(ctx, types.Alert{
		ModelID:   modelID,
		Metric:    metric,
		Severity:  sev,
		Message:   fmt.Sprintf("%s %.4f exceeds threshold %.4f", metric, value, threshold),
		Value:     value,
		Threshold: threshold,
	})
}
