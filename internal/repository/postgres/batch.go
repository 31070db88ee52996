package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// BatchRepo stores campaign batches and applies counter deltas.
type BatchRepo struct{ db *sql.DB }

// NewBatchRepo creates a Postgres-backed batch repository.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

const batchColumns = `
	id, campaign_id, batch_number, total_batches, scheduled_time, status,
	recipient_count, sent_count, failed_count, skipped_count,
	started_at, completed_at, created_at, updated_at`

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var (
		b         domain.Batch
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := row.Scan(
		&b.ID, &b.CampaignID, &b.BatchNumber, &b.TotalBatches, &b.ScheduledTime, &b.Status,
		&b.RecipientCount, &b.SentCount, &b.FailedCount, &b.SkippedCount,
		&started, &completed, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.StartedAt = timePtr(started)
	b.CompletedAt = timePtr(completed)
	return &b, nil
}

func scanBatches(rows *sql.Rows) ([]domain.Batch, error) {
	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *BatchRepo) LastBatch(ctx context.Context, campaignID string) (*domain.Batch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+` FROM campaign_batches
		WHERE campaign_id = $1 ORDER BY batch_number DESC LIMIT 1
	`, campaignID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last batch: %w", err)
	}
	return b, nil
}

// CreateBatch inserts a batch. A second batch with the same number for a
// campaign violates the unique key and is reported as ErrInvalidTransition.
func (r *BatchRepo) CreateBatch(ctx context.Context, b *domain.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO campaign_batches
			(id, campaign_id, batch_number, total_batches, scheduled_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (campaign_id, batch_number) DO NOTHING
		RETURNING created_at, updated_at
	`, b.ID, b.CampaignID, b.BatchNumber, b.TotalBatches, b.ScheduledTime, b.Status).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %d of %s exists: %w", b.BatchNumber, b.CampaignID, domain.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM campaign_batches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) TransitionBatch(ctx context.Context, id string, from, to domain.BatchStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("batch %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_batches SET
			status = $1,
			started_at = CASE WHEN $1 = 'processing' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition batch: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *BatchRepo) DueBatches(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("b", batchColumns)+`
		FROM campaign_batches b
		JOIN campaigns c ON c.id = b.campaign_id
		WHERE b.status = 'pending' AND b.scheduled_time <= $1 AND c.status = 'active'
		ORDER BY b.scheduled_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// AddCounts updates the batch and its campaign in one transaction.
func (r *BatchRepo) AddCounts(ctx context.Context, campaignID, batchID string, d domain.Counts) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaign_batches
		SET sent_count = sent_count + $1, failed_count = failed_count + $2,
		    skipped_count = skipped_count + $3, updated_at = NOW()
		WHERE id = $4
	`, d.Sent, d.Failed, d.Skipped, batchID); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count = sent_count + $1, failed_count = failed_count + $2,
		    skipped_count = skipped_count + $3, updated_at = NOW()
		WHERE id = $4
	`, d.Sent, d.Failed, d.Skipped, campaignID); err != nil {
		return fmt.Errorf("update campaign counts: %w", err)
	}
	return tx.Commit()
}

func (r *BatchRepo) RevertStuckBatches(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_batches SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("revert stuck batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AssignRecipients attaches up to limit unassigned pending recipients to a
// batch, or all of them when limit is 0. SKIP LOCKED lets concurrent
// schedulers split the pool.
func (r *BatchRepo) AssignRecipients(ctx context.Context, campaignID, batchID string, limit int) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaign_recipients SET batch_id = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM campaign_recipients
			WHERE campaign_id = $2 AND batch_id IS NULL AND status = 'pending'
			ORDER BY created_at, id
			LIMIT NULLIF($3, 0)
			FOR UPDATE SKIP LOCKED
		)
	`, batchID, campaignID, limit)
	if err != nil {
		return 0, fmt.Errorf("assign recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, `
		UPDATE campaign_batches SET recipient_count = recipient_count + $1, updated_at = NOW()
		WHERE id = $2
	`, n, batchID); err != nil {
		return 0, fmt.Errorf("update batch size: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}
