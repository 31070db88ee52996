package worker

import (
	"context"
	"log"
	"time"
)

// Retention defaults.
const (
	DefaultRetentionInterval = time.Hour
	DefaultEventRetention    = 90 * 24 * time.Hour
	DefaultTokenGrace        = 30 * 24 * time.Hour

	retentionChunk = 10000
)

// RetentionStore deletes aged rows, at most limit per call.
type RetentionStore interface {
	PruneTrackingEvents(ctx context.Context, before time.Time, limit int) (int, error)
	PruneExpiredTokens(ctx context.Context, before time.Time, limit int) (int, error)
}

// RetentionSweeper periodically removes tracking events past their
// retention and unsubscribe tokens long past expiry. Deletes run in chunks
// so no single statement holds locks for long.
type RetentionSweeper struct {
	store      RetentionStore
	interval   time.Duration
	events     time.Duration
	tokenGrace time.Duration
	chunk      int
	pause      time.Duration
	now        func() time.Time
}

// NewRetentionSweeper creates a sweeper with the default policies.
func NewRetentionSweeper(store RetentionStore) *RetentionSweeper {
	return &RetentionSweeper{
		store:      store,
		interval:   DefaultRetentionInterval,
		events:     DefaultEventRetention,
		tokenGrace: DefaultTokenGrace,
		chunk:      retentionChunk,
		pause:      100 * time.Millisecond,
		now:        time.Now,
	}
}

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (rs *RetentionSweeper) Start(ctx context.Context) {
	log.Printf("[Retention] Starting (interval=%s, events=%s, token_grace=%s)", rs.interval, rs.events, rs.tokenGrace)
	rs.RunOnce(ctx)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Retention] Stopping")
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce prunes both tables and returns the rows removed from each.
func (rs *RetentionSweeper) RunOnce(ctx context.Context) (events, tokens int) {
	now := rs.now()
	events = rs.drain(ctx, "tracking events", now.Add(-rs.events), rs.store.PruneTrackingEvents)
	tokens = rs.drain(ctx, "unsubscribe tokens", now.Add(-rs.tokenGrace), rs.store.PruneExpiredTokens)
	if events > 0 || tokens > 0 {
		log.Printf("[Retention] removed %d tracking events, %d expired tokens", events, tokens)
	}
	return events, tokens
}

func (rs *RetentionSweeper) drain(ctx context.Context, what string, before time.Time,
	prune func(context.Context, time.Time, int) (int, error)) int {
	total := 0
	for ctx.Err() == nil {
		n, err := prune(ctx, before, rs.chunk)
		if err != nil {
			log.Printf("[Retention] prune %s: %v", what, err)
			return total
		}
		total += n
		if n < rs.chunk {
			return total
		}
		select {
		case <-ctx.Done():
		case <-time.After(rs.pause):
		}
	}
	return total
}
