package memory

import (
	"context"
	"time"
)

// PruneTrackingEvents deletes up to limit events recorded before cutoff.
func (s *Store) PruneTrackingEvents(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	n := 0
	for _, ev := range s.events {
		if ev.At.Before(before) && n < limit {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return n, nil
}

// PruneExpiredTokens deletes up to limit tokens that expired before cutoff.
func (s *Store) PruneExpiredTokens(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tokens {
		if n >= limit {
			break
		}
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
