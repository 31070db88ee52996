package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// RecipientRepo stores campaign recipients. Every status change is a
// conditional UPDATE on the current status.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `
	id, campaign_id, batch_id, user_id, email, name, status, unsubscribe_token,
	sent_at, opened_at, retry_count, error_message, created_at, updated_at`

func scanRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
	var out []domain.Recipient
	for rows.Next() {
		var (
			rc       domain.Recipient
			batchID  sql.NullString
			userID   sql.NullString
			token    sql.NullString
			errMsg   sql.NullString
			sentAt   sql.NullTime
			openedAt sql.NullTime
		)
		if err := rows.Scan(
			&rc.ID, &rc.CampaignID, &batchID, &userID, &rc.Email, &rc.Name, &rc.Status, &token,
			&sentAt, &openedAt, &rc.RetryCount, &errMsg, &rc.CreatedAt, &rc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		rc.BatchID = stringPtr(batchID)
		rc.UserID = stringPtr(userID)
		rc.UnsubscribeToken = token.String
		rc.ErrorMessage = errMsg.String
		rc.SentAt = timePtr(sentAt)
		rc.OpenedAt = timePtr(openedAt)
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ---- resolution ----

func (r *RecipientRepo) InsertAllUsers(ctx context.Context, campaignID string) (int, error) {
	return r.insert(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, user_id, email, name, status, created_at, updated_at)
		SELECT gen_random_uuid()::text, $1, u.id, lower(u.email), COALESCE(u.name, ''), 'pending', NOW(), NOW()
		FROM users u
		ON CONFLICT (campaign_id, email) DO NOTHING
	`, campaignID)
}

func (r *RecipientRepo) InsertUsersByTags(ctx context.Context, campaignID string, tagIDs []string) (int, error) {
	return r.insert(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, user_id, email, name, status, created_at, updated_at)
		SELECT gen_random_uuid()::text, $1, u.id, lower(u.email), COALESCE(u.name, ''), 'pending', NOW(), NOW()
		FROM users u
		WHERE EXISTS (
			SELECT 1 FROM user_tags t WHERE t.user_id = u.id AND t.tag_id = ANY($2)
		)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`, campaignID, pq.Array(tagIDs))
}

func (r *RecipientRepo) InsertAddresses(ctx context.Context, campaignID string, addresses []string) (int, error) {
	return r.insert(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, email, name, status, created_at, updated_at)
		SELECT gen_random_uuid()::text, $1, a.email, '', 'pending', NOW(), NOW()
		FROM unnest($2::text[]) AS a(email)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`, campaignID, pq.Array(addresses))
}

func (r *RecipientRepo) insert(ctx context.Context, q string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *RecipientRepo) RefreshRecipientCount(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET recipient_count = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING recipient_count
	`, campaignID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("refresh recipient count: %w", err)
	}
	return n, nil
}

// ---- delivery ----

func (r *RecipientRepo) PendingForBatch(ctx context.Context, batchID string, limit int) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM campaign_recipients
		WHERE batch_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		LIMIT NULLIF($2, 0)
	`, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending recipients: %w", err)
	}
	defer rows.Close()
	return scanRecipients(rows)
}

func (r *RecipientRepo) CountPendingInBatch(ctx context.Context, batchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE batch_id = $1 AND status = 'pending'`, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// moveRecipient sets status to `to` where the row is still in from. set
// holds the other assignments of the move, with placeholders from $4.
func (r *RecipientRepo) moveRecipient(ctx context.Context, id string, from, to domain.RecipientStatus, set string, args ...any) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("recipient %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = $1, updated_at = NOW()`+set+`
		WHERE id = $2 AND status = $3
	`, append([]any{to, id, from}, args...)...)
	if err != nil {
		return false, fmt.Errorf("move recipient to %s: %w", to, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *RecipientRepo) ClaimRecipient(ctx context.Context, id string) (bool, error) {
	return r.moveRecipient(ctx, id, domain.RecipientPending, domain.RecipientSending, "")
}

// MarkSent reports false when the recipient is no longer in sending, for
// example after the recovery sweep took it back.
func (r *RecipientRepo) MarkSent(ctx context.Context, id string, retries int, at time.Time) (bool, error) {
	return r.moveRecipient(ctx, id, domain.RecipientSending, domain.RecipientSent,
		`, sent_at = $4, retry_count = $5, error_message = NULL`, at, retries)
}

func (r *RecipientRepo) MarkFailed(ctx context.Context, id string, retries int, reason string) (bool, error) {
	return r.moveRecipient(ctx, id, domain.RecipientSending, domain.RecipientFailed,
		`, retry_count = $4, error_message = $5`, retries, truncate(reason, 1000))
}

func (r *RecipientRepo) MarkSkipped(ctx context.Context, ids []string, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !domain.RecipientPending.CanTransition(domain.RecipientSkipped) {
		return 0, domain.ErrInvalidTransition
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'skipped', error_message = $2, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'pending'
	`, pq.Array(ids), reason)
	if err != nil {
		return 0, fmt.Errorf("mark skipped: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *RecipientRepo) SetUnsubscribeToken(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET unsubscribe_token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("set unsubscribe token: %w", err)
	}
	return nil
}

// SentSince counts sends at or after since, across all campaigns.
func (r *RecipientRepo) SentSince(ctx context.Context, since time.Time) (int, time.Time, error) {
	var (
		n      int
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(sent_at)
		FROM campaign_recipients
		WHERE sent_at >= $1
	`, since).Scan(&n, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count sent: %w", err)
	}
	return n, oldest.Time, nil
}

// RequeueStuck returns rows stuck in sending to pending, failing those that
// already used up their retries. Only sending rows qualify, matching
// domain.RecipientStatus.CanRequeue. Failed rows are added to the batch and
// campaign counters in the same statement.
func (r *RecipientRepo) RequeueStuck(ctx context.Context, olderThan time.Time, maxRetries int) (int, int, error) {
	var requeued, failed int
	err := r.db.QueryRowContext(ctx, `
		WITH stuck AS (
			UPDATE campaign_recipients SET
				status = CASE WHEN retry_count >= $2 THEN 'failed' ELSE 'pending' END,
				retry_count = CASE WHEN retry_count >= $2 THEN retry_count ELSE retry_count + 1 END,
				error_message = CASE WHEN retry_count >= $2 THEN 'delivery interrupted' ELSE error_message END,
				updated_at = NOW()
			WHERE status = 'sending' AND updated_at < $1
			RETURNING campaign_id, batch_id, status
		),
		failed_batches AS (
			UPDATE campaign_batches b SET failed_count = b.failed_count + f.n
			FROM (SELECT batch_id, COUNT(*) AS n FROM stuck WHERE status = 'failed' GROUP BY batch_id) f
			WHERE b.id = f.batch_id
		),
		failed_campaigns AS (
			UPDATE campaigns c SET failed_count = c.failed_count + f.n
			FROM (SELECT campaign_id, COUNT(*) AS n FROM stuck WHERE status = 'failed' GROUP BY campaign_id) f
			WHERE c.id = f.campaign_id
		)
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM stuck
	`, olderThan, maxRetries).Scan(&requeued, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stuck recipients: %w", err)
	}
	return requeued, failed, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
