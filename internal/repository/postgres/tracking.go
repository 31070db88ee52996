package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// TrackingRepo stores engagement events and bumps campaign counters.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

// Record stores ev. An open is counted only the first time opened_at is
// set for the recipient; repeated opens are dropped. Every click counts.
// It reports whether a campaign counter changed.
func (r *TrackingRepo) Record(ctx context.Context, ev *domain.TrackingEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, ev.CampaignID).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup campaign: %w", err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}

	// A redelivered event id is ignored so queued events count once.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_events (id, event_type, campaign_id, recipient_id, url, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Type, ev.CampaignID, ev.RecipientID, ev.URL, ev.IP, ev.UserAgent, ev.At)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	counted := false
	switch ev.Type {
	case domain.EventOpen:
		res, err := tx.ExecContext(ctx, `
			UPDATE campaign_recipients SET opened_at = $3
			WHERE id = $1 AND campaign_id = $2 AND opened_at IS NULL
		`, ev.RecipientID, ev.CampaignID, ev.At)
		if err != nil {
			return false, fmt.Errorf("mark opened: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET open_count = open_count + 1 WHERE id = $1`, ev.CampaignID); err != nil {
			return false, fmt.Errorf("count open: %w", err)
		}
		counted = true
	case domain.EventClick:
		if _, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET click_count = click_count + 1 WHERE id = $1`, ev.CampaignID); err != nil {
			return false, fmt.Errorf("count click: %w", err)
		}
		counted = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return counted, nil
}
