package worker

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/service/quota"
)

// BatchStore is the batch storage used by the delivery loops.
type BatchStore interface {
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	// TransitionBatch moves a batch from one status to another and reports
	// false, without error, when the batch is no longer in from.
	TransitionBatch(ctx context.Context, id string, from, to domain.BatchStatus) (bool, error)
	// DueBatches lists pending batches of active campaigns scheduled at or
	// before now, oldest first.
	DueBatches(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error)
	// AddCounts adds d to both the batch and campaign counters.
	AddCounts(ctx context.Context, campaignID, batchID string, d domain.Counts) error
	RevertStuckBatches(ctx context.Context, olderThan time.Time) (int, error)
}

// RecipientStore is the recipient storage used by the delivery loops.
type RecipientStore interface {
	PendingForBatch(ctx context.Context, batchID string, limit int) ([]domain.Recipient, error)
	CountPendingInBatch(ctx context.Context, batchID string) (int, error)
	// ClaimRecipient moves a recipient from pending to sending and reports
	// false if another run got there first.
	ClaimRecipient(ctx context.Context, id string) (bool, error)
	// MarkSent and MarkFailed settle a recipient in sending. They report
	// false when it already left sending, and the outcome must then not be
	// counted.
	MarkSent(ctx context.Context, id string, retries int, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, retries int, reason string) (bool, error)
	MarkSkipped(ctx context.Context, ids []string, reason string) (int, error)
	SetUnsubscribeToken(ctx context.Context, id, token string) error
	// RequeueStuck returns recipients left in sending since before
	// olderThan to pending, or fails them once they reach maxRetries.
	RequeueStuck(ctx context.Context, olderThan time.Time, maxRetries int) (requeued, failed int, err error)
}

// CampaignReader reads campaigns and their outstanding work.
type CampaignReader interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Outstanding(ctx context.Context, id string) (domain.Outstanding, error)
}

// Lifecycle is the part of the campaign service the worker drives.
type Lifecycle interface {
	Finalize(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
}

// Scheduler attaches recipients to batches and chains follow-up batches.
type Scheduler interface {
	AssignRecipients(ctx context.Context, batchID, campaignID string, limit int) (int, error)
	NextBatch(ctx context.Context, prev *domain.Batch) (*domain.Batch, error)
}

// QuotaChecker reports the remaining send allowance.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, requested int) quota.Status
}

// Suppressions filters unsubscribed addresses and issues unsubscribe tokens.
type Suppressions interface {
	Unsubscribed(ctx context.Context, emails []string) (map[string]bool, error)
	EnsureToken(ctx context.Context, email string) (string, error)
}
