package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) FilterUnsubscribed(ctx context.Context, emails []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM unsubscribes WHERE email = ANY($1)`, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("filter unsubscribed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out[email] = true
	}
	return out, rows.Err()
}

func (r *SuppressionRepo) AddUnsubscribe(ctx context.Context, u *domain.Unsubscribe) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unsubscribes (email, reason, source, campaign_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (email) DO NOTHING
	`, u.Email, u.Reason, u.Source, u.CampaignID, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("add unsubscribe: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) RemoveUnsubscribe(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM unsubscribes WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("remove unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) ListUnsubscribes(ctx context.Context, limit, offset int) ([]domain.Unsubscribe, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unsubscribes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unsubscribes: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT email, COALESCE(reason, ''), source, COALESCE(campaign_id, ''), created_at
		FROM unsubscribes
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0) OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list unsubscribes: %w", err)
	}
	defer rows.Close()

	var out []domain.Unsubscribe
	for rows.Next() {
		var u domain.Unsubscribe
		if err := rows.Scan(&u.Email, &u.Reason, &u.Source, &u.CampaignID, &u.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan unsubscribe: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

const tokenColumns = `token, email, expires_at, used_at, created_at`

func scanToken(row rowScanner) (*domain.UnsubscribeToken, error) {
	var (
		t    domain.UnsubscribeToken
		used sql.NullTime
	)
	if err := row.Scan(&t.Token, &t.Email, &t.ExpiresAt, &used, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UsedAt = timePtr(used)
	return &t, nil
}

func (r *SuppressionRepo) ActiveToken(ctx context.Context, email string, now time.Time) (*domain.UnsubscribeToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM unsubscribe_tokens
		WHERE email = $1 AND used_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, email, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active token: %w", err)
	}
	return t, nil
}

func (r *SuppressionRepo) CreateToken(ctx context.Context, t *domain.UnsubscribeToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unsubscribe_tokens (token, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.Token, t.Email, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) GetToken(ctx context.Context, token string) (*domain.UnsubscribeToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM unsubscribe_tokens WHERE token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (r *SuppressionRepo) MarkTokenUsed(ctx context.Context, token string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE unsubscribe_tokens SET used_at = $2 WHERE token = $1 AND used_at IS NULL`, token, at)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	return nil
}
