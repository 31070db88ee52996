package config

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Delivery defaults.
const (
	DefaultHourlyCap            = 200
	DefaultQuotaWindowMinutes   = 60
	DefaultBatchSize            = 200
	DefaultBatchIntervalMinutes = 60
	DefaultMaxBatches           = 10
	DefaultMaxRetries           = 3
	DefaultMaxPerRun            = 200
	// MaxPerRunLimit bounds how many recipients one ProcessBatch run sends.
	MaxPerRunLimit  = 200
	DefaultSMTPPort = 587
)

// SMTPConfig holds outbound SMTP credentials.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Delivery is the resolved set of throttling and sender settings used by
// the quota tracker, batch scheduler, and delivery worker.
type Delivery struct {
	HourlyCap            int        `yaml:"hourly_cap"`
	QuotaWindowMinutes   int        `yaml:"quota_window_minutes"`
	BatchSize            int        `yaml:"batch_size"`
	BatchIntervalMinutes int        `yaml:"batch_interval_minutes"`
	MaxBatches           int        `yaml:"max_batches"`
	MaxRetries           int        `yaml:"max_retries"`
	MaxPerRun            int        `yaml:"max_per_run"`
	BaseURL              string     `yaml:"base_url"`
	FromEmail            string     `yaml:"from_email"`
	FromName             string     `yaml:"from_name"`
	SMTP                 SMTPConfig `yaml:"smtp"`
}

// QuotaWindow returns the rolling quota window.
func (d Delivery) QuotaWindow() time.Duration {
	return time.Duration(d.QuotaWindowMinutes) * time.Minute
}

// BatchInterval returns the spacing between scheduled batches.
func (d Delivery) BatchInterval() time.Duration {
	return time.Duration(d.BatchIntervalMinutes) * time.Minute
}

func (d Delivery) withDefaults() Delivery {
	if d.HourlyCap <= 0 {
		d.HourlyCap = DefaultHourlyCap
	}
	if d.QuotaWindowMinutes <= 0 {
		d.QuotaWindowMinutes = DefaultQuotaWindowMinutes
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.BatchIntervalMinutes <= 0 {
		d.BatchIntervalMinutes = DefaultBatchIntervalMinutes
	}
	if d.MaxBatches <= 0 {
		d.MaxBatches = DefaultMaxBatches
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.MaxPerRun <= 0 {
		d.MaxPerRun = DefaultMaxPerRun
	}
	if d.MaxPerRun > MaxPerRunLimit {
		d.MaxPerRun = MaxPerRunLimit
	}
	if d.SMTP.Port == 0 {
		d.SMTP.Port = DefaultSMTPPort
	}
	return d
}

// DefaultDelivery returns the built-in delivery settings.
func DefaultDelivery() Delivery {
	return Delivery{}.withDefaults()
}

// Apply overlays the non-zero fields of an admin settings record.
func (d Delivery) Apply(s *domain.Settings) Delivery {
	if s == nil {
		return d.withDefaults()
	}
	if s.HourlyCap > 0 {
		d.HourlyCap = s.HourlyCap
	}
	if s.BatchSize > 0 {
		d.BatchSize = s.BatchSize
	}
	if s.IntervalMins > 0 {
		d.BatchIntervalMinutes = s.IntervalMins
	}
	if s.MaxRetries > 0 {
		d.MaxRetries = s.MaxRetries
	}
	if s.MaxBatches > 0 {
		d.MaxBatches = s.MaxBatches
	}
	if s.SMTPHost != "" {
		d.SMTP.Host = s.SMTPHost
	}
	if s.SMTPPort > 0 {
		d.SMTP.Port = s.SMTPPort
	}
	if s.SMTPUser != "" {
		d.SMTP.User = s.SMTPUser
	}
	if s.SMTPPassword != "" {
		d.SMTP.Password = s.SMTPPassword
	}
	if s.FromEmail != "" {
		d.FromEmail = s.FromEmail
	}
	if s.FromName != "" {
		d.FromName = s.FromName
	}
	if s.BaseURL != "" {
		d.BaseURL = s.BaseURL
	}
	return d.withDefaults()
}

// Source resolves the delivery settings in effect for a call.
type Source interface {
	Delivery(ctx context.Context) Delivery
}

// Static is a Source that never changes.
type Static Delivery

// Delivery implements Source.
func (s Static) Delivery(context.Context) Delivery {
	return Delivery(s).withDefaults()
}

// SettingsStore loads the admin settings record.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*domain.Settings, error)
}

// Provider merges the admin settings record over the file and environment
// defaults on every call, so settings edits apply without a restart.
type Provider struct {
	base  Delivery
	store SettingsStore
}

// NewProvider creates a Provider. store may be nil.
func NewProvider(base Delivery, store SettingsStore) *Provider {
	return &Provider{base: base.withDefaults(), store: store}
}

// Delivery implements Source. Storage errors fall back to the base settings.
func (p *Provider) Delivery(ctx context.Context) Delivery {
	if p.store == nil {
		return p.base
	}
	s, err := p.store.GetSettings(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("settings lookup failed, using defaults", "error", err)
		}
		return p.base
	}
	return p.base.Apply(s)
}
