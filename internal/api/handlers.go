package api

import (
	"context"
	"net/http"

	"github.com/ignite/campaign-mailer/internal/auth"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/service/quota"
	"github.com/ignite/campaign-mailer/internal/service/sending"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
	"github.com/ignite/campaign-mailer/internal/worker"
)

// CampaignService is the campaign lifecycle surface the admin API drives.
type CampaignService interface {
	Create(ctx context.Context, input campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Delete(ctx context.Context, id string) error
	ScheduleOrStart(ctx context.Context, id string) (*campaign.SendOutcome, error)
	Pause(ctx context.Context, id string) (*domain.Campaign, error)
	Resume(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string) (*domain.Campaign, error)
	Duplicate(ctx context.Context, id string) (*domain.Campaign, error)
	Stats(ctx context.Context, id string) (*campaign.Stats, error)
	Failures(ctx context.Context, id string, limit int) ([]domain.Recipient, error)
}

// DueRunner runs one dispatcher pass on demand.
type DueRunner interface {
	RunOnce(ctx context.Context) (worker.DispatchSummary, error)
}

// QuotaReporter reports the current send allowance.
type QuotaReporter interface {
	GetQuotaStatus(ctx context.Context) quota.Status
}

// SettingsStore loads and saves the admin settings record.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*domain.Settings, error)
	SaveSettings(ctx context.Context, s *domain.Settings) error
}

// Handlers holds the admin API dependencies.
type Handlers struct {
	campaigns CampaignService
	batches   worker.BatchRunner
	due       DueRunner
	quota     QuotaReporter
	settings  SettingsStore
	delivery  config.Source
}

// Deps groups the collaborators of Handlers.
type Deps struct {
	Campaigns CampaignService
	Batches   worker.BatchRunner
	Due       DueRunner
	Quota     QuotaReporter
	Settings  SettingsStore
	Delivery  config.Source
}

// NewHandlers creates the admin API handlers.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		campaigns: d.Campaigns,
		batches:   d.Batches,
		due:       d.Due,
		quota:     d.Quota,
		settings:  d.Settings,
		delivery:  d.Delivery,
	}
}

// errorStatuses maps service sentinels to HTTP status codes.
var errorStatuses = []httputil.ErrorStatus{
	{Err: domain.ErrNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrInvalidTransition, Status: http.StatusConflict},
	{Err: campaign.ErrStillSending, Status: http.StatusConflict},
	{Err: campaign.ErrValidation, Status: http.StatusBadRequest},
	{Err: domain.ErrInvalidTarget, Status: http.StatusBadRequest},
	{Err: errInvalidSettings, Status: http.StatusBadRequest},
	{Err: sending.ErrNotConfigured, Status: http.StatusServiceUnavailable},
	{Err: suppression.ErrTokenExpired, Status: http.StatusGone},
	{Err: auth.ErrUnauthorized, Status: http.StatusUnauthorized},
	{Err: auth.ErrForbidden, Status: http.StatusForbidden},
}

func respondError(w http.ResponseWriter, err error) {
	httputil.ErrorFrom(w, err, errorStatuses)
}
