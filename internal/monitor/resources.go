package monitor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ResourceSampler reports process-host utilization. All readings are
// best-effort: GPU-less hosts report ok=false for the GPU pair and that
// must not raise errors anywhere.
type ResourceSampler interface {
	CPUPercent() (float64, bool)
	MemoryPercent() (float64, bool)
	GPUPercent() (float64, bool)
	GPUMemoryPercent() (float64, bool)
}

// ProcSampler reads /proc on Linux. On other platforms (or restricted
// environments) every probe degrades to ok=false.
type ProcSampler struct {
	mu        sync.Mutex
	lastIdle  uint64
	lastTotal uint64
}

func NewProcSampler() *ProcSampler { return &ProcSampler{} }

// CPUPercent derives utilization from the delta of /proc/stat aggregate
// counters between consecutive calls. The first call primes the counters
// and reports not-ok.
func (p *ProcSampler) CPUPercent() (float64, bool) {
	idle, total, ok := readCPUCounters()
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prevIdle, prevTotal := p.lastIdle, p.lastTotal
	p.lastIdle, p.lastTotal = idle, total
	if prevTotal == 0 || total <= prevTotal {
		return 0, false
	}
	dTotal := float64(total - prevTotal)
	dIdle := float64(idle - prevIdle)
	return (dTotal - dIdle) / dTotal * 100, true
}

func (p *ProcSampler) MemoryPercent() (float64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()
	var totalKB, availKB float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		return 0, false
	}
	return (totalKB - availKB) / totalKB * 100, true
}

// GPU sampling is not wired on plain hosts; absence is not an error.
func (p *ProcSampler) GPUPercent() (float64, bool)       { return 0, false }
func (p *ProcSampler) GPUMemoryPercent() (float64, bool) { return 0, false }

func readCPUCounters() (idle, total uint64, ok bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, 0, false
	}
	fields := strings.Fields(sc.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}
	for i, raw := range fields[1:] {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}
	return idle, total, true
}
