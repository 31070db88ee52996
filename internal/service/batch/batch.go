// Package batch spreads a campaign's recipients across hourly send windows.
//
// ScheduleBatches creates only the first batch of a plan. Follow-up batches
// are created one at a time by NextBatch as the delivery worker completes
// the previous one, so batch numbers and send times stay strictly ordered
// per campaign even when scheduling is invoked more than once.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// Repository is the batch storage contract used by the scheduler.
type Repository interface {
	// LastBatch returns the highest-numbered batch of a campaign, or nil
	// when the campaign has none.
	LastBatch(ctx context.Context, campaignID string) (*domain.Batch, error)
	CreateBatch(ctx context.Context, b *domain.Batch) error
	// AssignRecipients attaches up to limit pending recipients without a
	// batch to batchID and returns how many were attached.
	AssignRecipients(ctx context.Context, campaignID, batchID string, limit int) (int, error)
}

// Plan describes the outcome of ScheduleBatches.
type Plan struct {
	FirstBatchID            string    `json:"first_batch_id"`
	ScheduledTime           time.Time `json:"scheduled_time"`
	TotalBatches            int       `json:"total_batches"`
	EstimatedCompletionTime time.Time `json:"estimated_completion_time"`
}

// Scheduler creates time-slotted batches.
type Scheduler struct {
	repo     Repository
	settings config.Source
	now      func() time.Time
}

// NewScheduler creates a batch scheduler.
func NewScheduler(repo Repository, settings config.Source) *Scheduler {
	return &Scheduler{repo: repo, settings: settings, now: time.Now}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleBatches plans recipientCount recipients into batches after any
// batches the campaign already has, creates the first one, and attaches
// up to one batch worth of recipients to it.
func (s *Scheduler) ScheduleBatches(ctx context.Context, campaignID string, recipientCount int) (Plan, error) {
	if recipientCount <= 0 {
		return Plan{}, fmt.Errorf("schedule batches for %s: no recipients", campaignID)
	}
	d := s.settings.Delivery(ctx)
	interval := d.BatchInterval()

	total := (recipientCount + d.BatchSize - 1) / d.BatchSize
	if total > d.MaxBatches {
		log.Printf("[batch.Scheduler] campaign %s needs %d batches, above the advisory maximum of %d",
			campaignID, total, d.MaxBatches)
	}

	last, err := s.repo.LastBatch(ctx, campaignID)
	if err != nil {
		return Plan{}, fmt.Errorf("load last batch: %w", err)
	}

	first := s.now().Add(interval)
	number := 1
	if last != nil {
		if next := last.ScheduledTime.Add(interval); next.After(first) {
			first = next
		}
		number = last.BatchNumber + 1
	}

	b := &domain.Batch{
		ID:            uuid.New().String(),
		CampaignID:    campaignID,
		BatchNumber:   number,
		TotalBatches:  number - 1 + total,
		ScheduledTime: first,
		Status:        domain.BatchPending,
	}
	if err := s.create(ctx, b, d.BatchSize); err != nil {
		return Plan{}, err
	}

	return Plan{
		FirstBatchID:            b.ID,
		ScheduledTime:           first,
		TotalBatches:            total,
		EstimatedCompletionTime: first.Add(time.Duration(total-1) * interval),
	}, nil
}

// ScheduleNow creates a single batch due immediately and attaches up to
// limit recipients to it. Used when the whole campaign fits in the quota.
func (s *Scheduler) ScheduleNow(ctx context.Context, campaignID string, limit int) (*domain.Batch, error) {
	last, err := s.repo.LastBatch(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load last batch: %w", err)
	}
	number := 1
	if last != nil {
		number = last.BatchNumber + 1
	}
	b := &domain.Batch{
		ID:            uuid.New().String(),
		CampaignID:    campaignID,
		BatchNumber:   number,
		TotalBatches:  number,
		ScheduledTime: s.now(),
		Status:        domain.BatchPending,
	}
	if err := s.create(ctx, b, limit); err != nil {
		return nil, err
	}
	return b, nil
}

// NextBatch creates the batch that follows prev, scheduled one interval
// after the later of prev's slot and now. If a later batch already exists
// it is returned unchanged.
func (s *Scheduler) NextBatch(ctx context.Context, prev *domain.Batch) (*domain.Batch, error) {
	last, err := s.repo.LastBatch(ctx, prev.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("load last batch: %w", err)
	}
	if last != nil && last.BatchNumber > prev.BatchNumber {
		return last, nil
	}

	d := s.settings.Delivery(ctx)
	start := prev.ScheduledTime
	if now := s.now(); now.After(start) {
		start = now
	}
	total := prev.TotalBatches
	if total <= prev.BatchNumber {
		total = prev.BatchNumber + 1
	}

	b := &domain.Batch{
		ID:            uuid.New().String(),
		CampaignID:    prev.CampaignID,
		BatchNumber:   prev.BatchNumber + 1,
		TotalBatches:  total,
		ScheduledTime: start.Add(d.BatchInterval()),
		Status:        domain.BatchPending,
	}
	if err := s.create(ctx, b, d.BatchSize); err != nil {
		return nil, err
	}
	log.Printf("[batch.Scheduler] campaign %s: batch %d/%d scheduled for %s",
		b.CampaignID, b.BatchNumber, b.TotalBatches, b.ScheduledTime.Format(time.RFC3339))
	return b, nil
}

// AssignRecipients attaches up to limit unassigned pending recipients.
func (s *Scheduler) AssignRecipients(ctx context.Context, batchID, campaignID string, limit int) (int, error) {
	n, err := s.repo.AssignRecipients(ctx, campaignID, batchID, limit)
	if err != nil {
		return 0, fmt.Errorf("assign recipients to batch %s: %w", batchID, err)
	}
	return n, nil
}

func (s *Scheduler) create(ctx context.Context, b *domain.Batch, assign int) error {
	if err := s.repo.CreateBatch(ctx, b); err != nil {
		return fmt.Errorf("create batch %d: %w", b.BatchNumber, err)
	}
	n, err := s.repo.AssignRecipients(ctx, b.CampaignID, b.ID, assign)
	if err != nil {
		return fmt.Errorf("assign recipients to batch %d: %w", b.BatchNumber, err)
	}
	b.RecipientCount = n
	return nil
}
