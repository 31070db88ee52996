package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/campaign-mailer/internal/config"
)

// Store bundles every repository over one connection pool.
type Store struct {
	*CampaignRepo
	*BatchRepo
	*RecipientRepo
	*SuppressionRepo
	*SettingsRepo
	*TrackingRepo
	*RetentionRepo

	db *sql.DB
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		CampaignRepo:    NewCampaignRepo(db),
		BatchRepo:       NewBatchRepo(db),
		RecipientRepo:   NewRecipientRepo(db),
		SuppressionRepo: NewSuppressionRepo(db),
		SettingsRepo:    NewSettingsRepo(db),
		TrackingRepo:    NewTrackingRepo(db),
		RetentionRepo:   NewRetentionRepo(db),
		db:              db,
	}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Open connects to Postgres, applies the pool settings and pings.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
