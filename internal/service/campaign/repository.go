package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, and the
	// total number of matches.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	Create(ctx context.Context, c *domain.Campaign) error

	// Delete removes a campaign with its batches and recipients.
	Delete(ctx context.Context, id string) error

	// UpdateStatus moves a campaign from one status to another only if it is
	// still in from. Returns ErrInvalidTransition otherwise. started_at is
	// stamped on the first move to active and completed_at on terminal moves.
	UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) error

	// DueScheduled returns scheduled campaigns whose scheduled_at <= now.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// Batches returns a campaign's batches ordered by batch number.
	Batches(ctx context.Context, campaignID string) ([]domain.Batch, error)

	// Failures returns failed recipients with their last error.
	Failures(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error)

	// Outstanding counts pending (total and without batch) and sending
	// recipients.
	Outstanding(ctx context.Context, campaignID string) (domain.Outstanding, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}
