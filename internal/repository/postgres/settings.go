package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// SettingsRepo stores the single admin settings row.
type SettingsRepo struct{ db *sql.DB }

// NewSettingsRepo creates a Postgres-backed settings repository.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

func (r *SettingsRepo) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var s domain.Settings
	err := r.db.QueryRowContext(ctx, `
		SELECT hourly_cap, batch_size, batch_interval_minutes, max_retries, max_batches,
		       smtp_host, smtp_port, smtp_user, smtp_password,
		       from_email, from_name, base_url, updated_at
		FROM admin_settings WHERE id = 1
	`).Scan(
		&s.HourlyCap, &s.BatchSize, &s.IntervalMins, &s.MaxRetries, &s.MaxBatches,
		&s.SMTPHost, &s.SMTPPort, &s.SMTPUser, &s.SMTPPassword,
		&s.FromEmail, &s.FromName, &s.BaseURL, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepo) SaveSettings(ctx context.Context, s *domain.Settings) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO admin_settings
			(id, hourly_cap, batch_size, batch_interval_minutes, max_retries, max_batches,
			 smtp_host, smtp_port, smtp_user, smtp_password, from_email, from_name, base_url, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			hourly_cap = EXCLUDED.hourly_cap,
			batch_size = EXCLUDED.batch_size,
			batch_interval_minutes = EXCLUDED.batch_interval_minutes,
			max_retries = EXCLUDED.max_retries,
			max_batches = EXCLUDED.max_batches,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			smtp_user = EXCLUDED.smtp_user,
			smtp_password = EXCLUDED.smtp_password,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			base_url = EXCLUDED.base_url,
			updated_at = NOW()
		RETURNING updated_at
	`, s.HourlyCap, s.BatchSize, s.IntervalMins, s.MaxRetries, s.MaxBatches,
		s.SMTPHost, s.SMTPPort, s.SMTPUser, s.SMTPPassword,
		s.FromEmail, s.FromName, s.BaseURL,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
