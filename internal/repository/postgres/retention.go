package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionRepo deletes aged rows in bounded chunks.
type RetentionRepo struct{ db *sql.DB }

// NewRetentionRepo creates a Postgres-backed retention repository.
func NewRetentionRepo(db *sql.DB) *RetentionRepo { return &RetentionRepo{db: db} }

func (r *RetentionRepo) PruneTrackingEvents(ctx context.Context, before time.Time, limit int) (int, error) {
	return r.prune(ctx, "tracking events", `
		DELETE FROM tracking_events
		WHERE id IN (
			SELECT id FROM tracking_events WHERE created_at < $1 LIMIT $2
		)
	`, before, limit)
}

func (r *RetentionRepo) PruneExpiredTokens(ctx context.Context, before time.Time, limit int) (int, error) {
	return r.prune(ctx, "unsubscribe tokens", `
		DELETE FROM unsubscribe_tokens
		WHERE token IN (
			SELECT token FROM unsubscribe_tokens WHERE expires_at < $1 LIMIT $2
		)
	`, before, limit)
}

func (r *RetentionRepo) prune(ctx context.Context, what, q string, before time.Time, limit int) (int, error) {
	res, err := r.db.ExecContext(ctx, q, before, limit)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", what, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
