package state

import "context"

// runGC sweeps terminal entries older than s.opt.Retention every
// s.opt.GCInterval until ctx is cancelled (spec.md §4.I "Retention /
// GC").
func (s *Store) runGC(ctx context.Context) {
	defer close(s.gcDone)

	ticker := s.clk.NewTicker(s.opt.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := s.clk.Now().Add(-s.opt.Retention)

	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	for id, e := range s.states {
		e.mu.Lock()
		st := e.state
		e.mu.Unlock()

		if !st.Status.Terminal() || st.CompletedAt == nil {
			continue
		}
		if st.CompletedAt.Before(cutoff) {
			delete(s.states, id)
		}
	}
}
