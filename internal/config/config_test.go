package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  admin_token: "secret"

delivery:
  hourly_cap: 500
  batch_size: 100
  batch_interval_minutes: 30
  base_url: "https://mail.example.com"
  smtp:
    host: "smtp.example.com"
    user: "mailer"

transport:
  provider: "ses"

worker:
  poll_interval_seconds: 10
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "secret", cfg.Server.AdminToken)

	assert.Equal(t, 500, cfg.Delivery.HourlyCap)
	assert.Equal(t, 100, cfg.Delivery.BatchSize)
	assert.Equal(t, 30, cfg.Delivery.BatchIntervalMinutes)
	assert.Equal(t, DefaultMaxBatches, cfg.Delivery.MaxBatches)
	assert.Equal(t, DefaultMaxRetries, cfg.Delivery.MaxRetries)
	assert.Equal(t, DefaultSMTPPort, cfg.Delivery.SMTP.Port)
	assert.Equal(t, "smtp.example.com", cfg.Delivery.SMTP.Host)

	assert.Equal(t, "ses", cfg.Transport.Provider)
	assert.Equal(t, 5.0, cfg.Transport.RatePerSecond)
	assert.Equal(t, 10, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, 15, cfg.Worker.StaleAfterMinutes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SMTP_HOST", "relay.internal")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("EMAIL_HOURLY_CAP", "50")
	t.Setenv("BASE_URL", "https://news.example.org")
	t.Setenv("DATABASE_URL", "postgres://localhost/mailer")
	t.Setenv("EMAIL_BATCH_SIZE", "not-a-number")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "relay.internal", cfg.Delivery.SMTP.Host)
	assert.Equal(t, 2525, cfg.Delivery.SMTP.Port)
	assert.Equal(t, 50, cfg.Delivery.HourlyCap)
	assert.Equal(t, DefaultBatchSize, cfg.Delivery.BatchSize)
	assert.Equal(t, "https://news.example.org", cfg.Delivery.BaseURL)
	assert.Equal(t, "postgres://localhost/mailer", cfg.Database.URL)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestDeliveryApplySettings(t *testing.T) {
	base := Delivery{HourlyCap: 200, BaseURL: "https://env.example.com", SMTP: SMTPConfig{Host: "env-smtp"}}.withDefaults()

	got := base.Apply(&domain.Settings{HourlyCap: 80, IntervalMins: 15, SMTPHost: "admin-smtp"})

	assert.Equal(t, 80, got.HourlyCap)
	assert.Equal(t, 15, got.BatchIntervalMinutes)
	assert.Equal(t, "admin-smtp", got.SMTP.Host)
	assert.Equal(t, "https://env.example.com", got.BaseURL)
	assert.Equal(t, DefaultBatchSize, got.BatchSize)
}

type stubSettings struct {
	settings *domain.Settings
	err      error
}

func (s stubSettings) GetSettings(context.Context) (*domain.Settings, error) {
	return s.settings, s.err
}

func TestProviderPrecedence(t *testing.T) {
	base := Delivery{HourlyCap: 200}
	ctx := context.Background()

	p := NewProvider(base, stubSettings{settings: &domain.Settings{HourlyCap: 25}})
	assert.Equal(t, 25, p.Delivery(ctx).HourlyCap)

	p = NewProvider(base, stubSettings{err: domain.ErrNotFound})
	assert.Equal(t, 200, p.Delivery(ctx).HourlyCap)

	p = NewProvider(base, stubSettings{err: errors.New("connection reset")})
	assert.Equal(t, 200, p.Delivery(ctx).HourlyCap)

	p = NewProvider(base, nil)
	assert.Equal(t, DefaultQuotaWindowMinutes, p.Delivery(ctx).QuotaWindowMinutes)
}

func TestMaxPerRunIsCapped(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("delivery:\n  max_per_run: 5000\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, MaxPerRunLimit, cfg.Delivery.MaxPerRun)

	assert.Equal(t, 50, Static(Delivery{MaxPerRun: 50}).Delivery(context.Background()).MaxPerRun)
	assert.Equal(t, MaxPerRunLimit, Static(Delivery{MaxPerRun: 201}).Delivery(context.Background()).MaxPerRun)
}
