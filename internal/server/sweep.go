package server

import (
	"context"
	"time"

	"inferd/pkg/types"
)

// StartSweeper launches the periodic idle sweep that unloads models
// unused longer than the idle timeout. It reuses the normal unload path,
// so an instance with an in-flight predict simply blocks the sweep until
// the predict finishes.
func (s *Server) StartSweeper() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.opts.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.sweepIdle(time.Now())
			case <-s.done:
				return
			}
		}
	}()
}

// sweepIdle evicts every Ready instance idle past the threshold. Errors
// are logged and the sweep continues with the next candidate.
func (s *Server) sweepIdle(now time.Time) {
	cutoff := now.Add(-s.opts.IdleTimeout)

	s.mu.RLock()
	var stale []string
	for id, inst := range s.instances {
		state, _, _ := inst.snapshot()
		if state != types.StateReady {
			continue
		}
		if inst.lastUsedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.UnloadModel(ctx, id); err != nil && !IsNotLoaded(err) {
			s.log.Warn().Err(err).Str("model", id).Msg("idle sweep unload failed")
		} else {
			s.log.Info().Str("model", id).Msg("idle model evicted")
		}
		cancel()
	}
}
