package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/service/batch"
	"github.com/ignite/campaign-mailer/internal/service/quota"
)

// Resolver expands a target configuration into recipient rows.
type Resolver interface {
	Resolve(ctx context.Context, campaignID string, target domain.TargetConfig) (int, error)
}

// QuotaChecker reports current send capacity.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, requested int) quota.Status
}

// Planner creates batches.
type Planner interface {
	ScheduleBatches(ctx context.Context, campaignID string, recipientCount int) (batch.Plan, error)
	ScheduleNow(ctx context.Context, campaignID string, limit int) (*domain.Batch, error)
}

// Modes reported in SendOutcome.
const (
	ModeScheduled = "scheduled"
	ModeImmediate = "immediate"
	ModeBatched   = "batched"
	ModeResumed   = "resumed"
	ModeEmpty     = "empty"
)

// SendOutcome describes what ScheduleOrStart decided.
type SendOutcome struct {
	Mode       string           `json:"mode"`
	Status     string           `json:"status"`
	Recipients int              `json:"recipients"`
	Inserted   int              `json:"inserted"`
	BatchID    string           `json:"batch_id,omitempty"`
	Plan       *batch.Plan      `json:"plan,omitempty"`
	Quota      quota.Status     `json:"quota"`
	Campaign   *domain.Campaign `json:"-"`
}

// Stats is the campaign detail view.
type Stats struct {
	Campaign    *domain.Campaign   `json:"campaign"`
	Batches     []domain.Batch     `json:"batches"`
	Outstanding domain.Outstanding `json:"outstanding"`
	OpenRate    float64            `json:"open_rate"`
	ClickRate   float64            `json:"click_rate"`
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is.
type Service struct {
	repo     Repository
	resolver Resolver
	quota    QuotaChecker
	planner  Planner
	now      func() time.Time
}

// NewService creates a campaign service.
func NewService(repo Repository, resolver Resolver, quota QuotaChecker, planner Planner) *Service {
	return &Service{repo: repo, resolver: resolver, quota: quota, planner: planner, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string              `json:"name"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"html_content"`
	FromName    string              `json:"from_name"`
	FromEmail   string              `json:"from_email"`
	Schedule    domain.ScheduleType `json:"schedule_type"`
	ScheduledAt *time.Time          `json:"scheduled_at"`
	Target      domain.TargetConfig `json:"target"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	input.Subject = strings.TrimSpace(input.Subject)
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required: %w", ErrValidation)
	}
	if strings.TrimSpace(input.HTMLContent) == "" {
		return nil, fmt.Errorf("html_content is required: %w", ErrValidation)
	}
	if err := input.Target.Validate(); err != nil {
		return nil, err
	}
	if input.Schedule == "" {
		input.Schedule = domain.ScheduleImmediate
	}
	if !input.Schedule.Valid() {
		return nil, fmt.Errorf("unknown schedule_type %q: %w", input.Schedule, ErrValidation)
	}
	if input.Schedule == domain.ScheduleAt && input.ScheduledAt == nil {
		return nil, fmt.Errorf("scheduled_at is required for scheduled campaigns: %w", ErrValidation)
	}
	if input.Name == "" {
		input.Name = input.Subject
	}

	now := s.now()
	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
		FromName:    input.FromName,
		FromEmail:   input.FromEmail,
		Status:      domain.CampaignDraft,
		Schedule:    input.Schedule,
		Target:      input.Target,
		ScheduledAt: input.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// ScheduleOrStart starts a draft or due scheduled campaign. A draft with a future
// scheduled_at only moves to scheduled. Otherwise recipients are resolved
// and, if the whole unsent set fits in the current quota, one batch due
// now is created; if not, the batch scheduler spreads it over windows.
func (s *Service) ScheduleOrStart(ctx context.Context, id string) (*SendOutcome, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.CampaignDraft && c.Schedule == domain.ScheduleAt &&
		c.ScheduledAt != nil && c.ScheduledAt.After(s.now()) {
		if err := s.apply(ctx, c, domain.ActionSchedule); err != nil {
			return nil, err
		}
		log.Printf("[campaign.Service] Campaign %s scheduled for %s", id, c.ScheduledAt.Format(time.RFC3339))
		return &SendOutcome{Mode: ModeScheduled, Status: string(c.Status), Campaign: c}, nil
	}

	// Validate the transition before touching recipients.
	if _, err := domain.TransitionCampaign(c, domain.ActionStart); err != nil {
		return nil, err
	}

	inserted := 0
	if c.Status != domain.CampaignPaused {
		inserted, err = s.resolver.Resolve(ctx, id, c.Target)
		if err != nil {
			return nil, fmt.Errorf("resolve recipients: %w", err)
		}
	}
	out, err := s.repo.Outstanding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count outstanding: %w", err)
	}

	if err := s.apply(ctx, c, domain.ActionStart); err != nil {
		return nil, err
	}
	outcome := &SendOutcome{Status: string(c.Status), Recipients: out.Pending, Inserted: inserted, Campaign: c}

	switch {
	case out.Done():
		outcome.Mode = ModeEmpty
		if err := s.Finalize(ctx, id); err != nil {
			return nil, err
		}
		if fresh, err := s.repo.Get(ctx, id); err == nil {
			outcome.Campaign = fresh
			outcome.Status = string(fresh.Status)
		}
		return outcome, nil
	case out.Unassigned == 0:
		// Everything pending already belongs to existing batches.
		outcome.Mode = ModeResumed
		outcome.Quota = s.quota.CheckQuota(ctx, 0)
		return outcome, nil
	}

	outcome.Quota = s.quota.CheckQuota(ctx, out.Unassigned)
	if outcome.Quota.CanSendNow {
		b, err := s.planner.ScheduleNow(ctx, id, out.Unassigned)
		if err != nil {
			s.rollback(ctx, c)
			return nil, fmt.Errorf("create immediate batch: %w", err)
		}
		outcome.Mode = ModeImmediate
		outcome.BatchID = b.ID
		log.Printf("[campaign.Service] Campaign %s: sending %d recipients now (batch %s)", id, out.Unassigned, b.ID)
		return outcome, nil
	}

	plan, err := s.planner.ScheduleBatches(ctx, id, out.Unassigned)
	if err != nil {
		s.rollback(ctx, c)
		return nil, fmt.Errorf("schedule batches: %w", err)
	}
	outcome.Mode = ModeBatched
	outcome.BatchID = plan.FirstBatchID
	outcome.Plan = &plan
	log.Printf("[campaign.Service] Campaign %s: %d recipients over %d batches, first at %s",
		id, out.Unassigned, plan.TotalBatches, plan.ScheduledTime.Format(time.RFC3339))
	return outcome, nil
}

// StartDue starts scheduled campaigns whose time has come and returns how
// many were started.
func (s *Service) StartDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.DueScheduled(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	started := 0
	for _, c := range due {
		if _, err := s.ScheduleOrStart(ctx, c.ID); err != nil {
			log.Printf("[campaign.Service] start due campaign %s failed: %v", c.ID, err)
			continue
		}
		started++
	}
	return started, nil
}

// Pause stops the dispatcher from picking up the campaign's batches. A batch
// already being processed runs to the end of its slice.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.act(ctx, id, domain.ActionPause)
}

// Resume makes a paused campaign's pending batches eligible again.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.act(ctx, id, domain.ActionResume)
}

// Cancel returns the campaign to draft. Pending batches are kept but are
// ignored while the campaign is not active.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.act(ctx, id, domain.ActionCancel)
}

// Duplicate copies a campaign's content and targeting into a new draft.
func (s *Service) Duplicate(ctx context.Context, id string) (*domain.Campaign, error) {
	src, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	dup := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        src.Name + " (Copy)",
		Subject:     src.Subject,
		HTMLContent: src.HTMLContent,
		FromName:    src.FromName,
		FromEmail:   src.FromEmail,
		Status:      domain.CampaignDraft,
		Schedule:    src.Schedule,
		Target:      src.Target,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if dup.Schedule == domain.ScheduleAt {
		dup.Schedule = domain.ScheduleImmediate
	}
	dup.Target.TagIDs = append([]string(nil), src.Target.TagIDs...)
	dup.Target.Addresses = append([]string(nil), src.Target.Addresses...)
	if err := s.repo.Create(ctx, dup); err != nil {
		return nil, fmt.Errorf("duplicate campaign: %w", err)
	}
	return dup, nil
}

// Delete removes a campaign and everything it owns.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignActive {
		return ErrStillSending
	}
	return s.repo.Delete(ctx, id)
}

// Stats returns counters, batches, and engagement rates for a campaign.
func (s *Service) Stats(ctx context.Context, id string) (*Stats, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.Batches(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	out, err := s.repo.Outstanding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count outstanding: %w", err)
	}
	st := &Stats{Campaign: c, Batches: batches, Outstanding: out}
	if c.SentCount > 0 {
		st.OpenRate = float64(c.OpenCount) / float64(c.SentCount)
		st.ClickRate = float64(c.ClickCount) / float64(c.SentCount)
	}
	return st, nil
}

// Failures returns failed recipients and their last error.
func (s *Service) Failures(ctx context.Context, id string, limit int) ([]domain.Recipient, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.repo.Failures(ctx, id, limit)
}

// Finalize moves a campaign to completed, partial, or failed once no
// recipient is pending or sending. It is a no-op while work remains or
// when the campaign is already terminal.
func (s *Service) Finalize(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		return nil
	}
	out, err := s.repo.Outstanding(ctx, id)
	if err != nil {
		return fmt.Errorf("count outstanding: %w", err)
	}
	if !out.Done() {
		return nil
	}
	if err := s.apply(ctx, c, domain.ActionFinish); err != nil {
		return err
	}
	log.Printf("[campaign.Service] Campaign %s finished as %s (sent %d, failed %d, skipped %d)",
		id, c.Status, c.SentCount, c.FailedCount, c.SkippedCount)
	return nil
}

// Fail marks a campaign failed because delivery cannot proceed, for
// example when no transport is configured.
func (s *Service) Fail(ctx context.Context, id, reason string) error {
	if _, err := s.act(ctx, id, domain.ActionFail); err != nil {
		return err
	}
	log.Printf("[campaign.Service] Campaign %s failed: %s", id, reason)
	return nil
}

func (s *Service) act(ctx context.Context, id string, action domain.CampaignAction) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, c, action); err != nil {
		return nil, err
	}
	return c, nil
}

// apply computes the next status and stores it with a compare-and-set on
// the status c was loaded with. c.Status is updated on success.
func (s *Service) apply(ctx context.Context, c *domain.Campaign, action domain.CampaignAction) error {
	next, err := domain.TransitionCampaign(c, action)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, c.ID, c.Status, next); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("campaign %s changed concurrently: %w", c.ID, err)
		}
		return fmt.Errorf("update status: %w", err)
	}
	c.Status = next
	c.UpdatedAt = s.now()
	metrics.Transitions.WithLabelValues(string(next)).Inc()
	return nil
}

func (s *Service) rollback(ctx context.Context, c *domain.Campaign) {
	if err := s.apply(ctx, c, domain.ActionCancel); err != nil {
		log.Printf("[campaign.Service] rollback of %s failed: %v", c.ID, err)
	}
}
