package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/content"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
	"github.com/ignite/campaign-mailer/internal/service/sending"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
)

// Result statuses that are not batch statuses.
const (
	StatusSkipped = "skipped"
)

// MessageQuotaExhausted is the Result message when no quota is left.
const MessageQuotaExhausted = "quota exhausted"

// Result summarizes one ProcessBatch run.
type Result struct {
	BatchID string `json:"batch_id"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	// Remaining is the number of recipients still pending in the batch, or
	// the remaining quota when the run stopped for lack of quota.
	Remaining int    `json:"remaining"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// BatchProcessor sends one batch of a campaign.
type BatchProcessor struct {
	batches      BatchStore
	recipients   RecipientStore
	campaigns    CampaignReader
	lifecycle    Lifecycle
	scheduler    Scheduler
	quota        QuotaChecker
	suppressions Suppressions
	transports   sending.Factory
	personalizer *content.Personalizer
	settings     config.Source

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ProcessorDeps groups the collaborators of a BatchProcessor.
type ProcessorDeps struct {
	Batches      BatchStore
	Recipients   RecipientStore
	Campaigns    CampaignReader
	Lifecycle    Lifecycle
	Scheduler    Scheduler
	Quota        QuotaChecker
	Suppressions Suppressions
	Transports   sending.Factory
	Personalizer *content.Personalizer
	Settings     config.Source
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(d ProcessorDeps) *BatchProcessor {
	if d.Personalizer == nil {
		d.Personalizer = content.NewPersonalizer(nil)
	}
	return &BatchProcessor{
		batches:      d.Batches,
		recipients:   d.Recipients,
		campaigns:    d.Campaigns,
		lifecycle:    d.Lifecycle,
		scheduler:    d.Scheduler,
		quota:        d.Quota,
		suppressions: d.Suppressions,
		transports:   d.Transports,
		personalizer: d.Personalizer,
		settings:     d.Settings,
		now:          time.Now,
		sleep:        retry.SleepContext,
	}
}

// WithClock overrides the time source.
func (p *BatchProcessor) WithClock(now func() time.Time) *BatchProcessor {
	p.now = now
	return p
}

// WithSleep overrides the retry backoff sleep.
func (p *BatchProcessor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *BatchProcessor {
	p.sleep = sleep
	return p
}

// ProcessBatch sends up to maxToSend pending recipients of a batch.
// maxToSend <= 0 means the configured per-run maximum. A batch that is not
// pending, or whose campaign is not active, is skipped without error. The
// only error returned for a claimed batch is a configuration error, after
// the batch and campaign have been marked failed.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, batchID string, maxToSend int) (Result, error) {
	res := Result{BatchID: batchID}

	b, err := p.batches.GetBatch(ctx, batchID)
	if err != nil {
		return res, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	if b.Status != domain.BatchPending {
		res.Status = StatusSkipped
		res.Message = fmt.Sprintf("batch is %s", b.Status)
		return res, nil
	}
	c, err := p.campaigns.Get(ctx, b.CampaignID)
	if err != nil {
		return res, fmt.Errorf("load campaign %s: %w", b.CampaignID, err)
	}
	if c.Status != domain.CampaignActive {
		res.Status = StatusSkipped
		res.Message = fmt.Sprintf("campaign is %s", c.Status)
		return res, nil
	}

	claimed, err := p.batches.TransitionBatch(ctx, b.ID, domain.BatchPending, domain.BatchProcessing)
	if err != nil {
		return res, fmt.Errorf("claim batch %s: %w", b.ID, err)
	}
	if !claimed {
		res.Status = StatusSkipped
		res.Message = "batch claimed by another run"
		return res, nil
	}
	started := p.now()
	defer func() { metrics.BatchDuration.Observe(p.now().Sub(started).Seconds()) }()

	d := p.settings.Delivery(ctx)
	limit := maxToSend
	if limit <= 0 || limit > d.MaxPerRun {
		limit = d.MaxPerRun
	}
	q := p.quota.CheckQuota(ctx, limit)
	metrics.QuotaRemaining.Set(float64(q.Remaining))
	if q.Remaining < limit {
		limit = q.Remaining
	}
	if limit <= 0 {
		p.moveBatch(ctx, b.ID, domain.BatchPending)
		res.Status = string(domain.BatchPending)
		res.Message = MessageQuotaExhausted
		res.Remaining = q.Remaining
		log.Printf("[BatchProcessor] batch %s deferred: quota exhausted until %s", b.ID, q.WindowResetAt.Format(time.RFC3339))
		return res, nil
	}

	transport, err := p.transports.Transport(ctx)
	if err != nil {
		reason := err.Error()
		p.moveBatch(ctx, b.ID, domain.BatchFailed)
		if ferr := p.lifecycle.Fail(ctx, c.ID, reason); ferr != nil {
			log.Printf("[BatchProcessor] mark campaign %s failed: %v", c.ID, ferr)
		}
		res.Status = string(domain.BatchFailed)
		res.Message = reason
		if !errors.Is(err, sending.ErrNotConfigured) {
			err = fmt.Errorf("%w: %v", sending.ErrNotConfigured, err)
		}
		return res, err
	}

	recipients, err := p.fetch(ctx, b, limit)
	if err != nil {
		p.moveBatch(ctx, b.ID, domain.BatchPending)
		return res, err
	}

	sendable := p.skipUnsubscribed(ctx, b, recipients, &res)
	policy := retry.NewPolicy(d.MaxRetries)
	policy.Sleep = p.sleep
	policy.OnRetry = func(attempt int, err error) {
		metrics.Retries.Inc()
		log.Printf("[BatchProcessor] batch %s retry %d after: %v", b.ID, attempt, err)
	}

	for i := range sendable {
		if ctx.Err() != nil {
			break
		}
		if !p.deliver(ctx, c, b, &sendable[i], transport, policy, d, &res) {
			break
		}
	}

	p.finish(ctx, b, len(recipients), &res)
	log.Printf("[BatchProcessor] batch %s (%d/%d) of campaign %s: sent=%d failed=%d skipped=%d remaining=%d status=%s",
		b.ID, b.BatchNumber, b.TotalBatches, c.ID, res.Sent, res.Failed, res.Skipped, res.Remaining, res.Status)
	return res, nil
}

// fetch returns up to limit pending recipients of the batch. A batch that
// was created without recipients gets unassigned ones attached first.
func (p *BatchProcessor) fetch(ctx context.Context, b *domain.Batch, limit int) ([]domain.Recipient, error) {
	recipients, err := p.recipients.PendingForBatch(ctx, b.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recipients of batch %s: %w", b.ID, err)
	}
	if len(recipients) > 0 || b.RecipientCount > 0 {
		return recipients, nil
	}
	n, err := p.scheduler.AssignRecipients(ctx, b.ID, b.CampaignID, limit)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return p.recipients.PendingForBatch(ctx, b.ID, limit)
}

// skipUnsubscribed marks unsubscribed recipients skipped with one lookup
// and returns the rest.
func (p *BatchProcessor) skipUnsubscribed(ctx context.Context, b *domain.Batch, recipients []domain.Recipient, res *Result) []domain.Recipient {
	if len(recipients) == 0 {
		return nil
	}
	emails := make([]string, len(recipients))
	for i, r := range recipients {
		emails[i] = r.Email
	}
	unsubscribed, err := p.suppressions.Unsubscribed(ctx, emails)
	if err != nil {
		// Without the list we cannot send safely; leave everyone pending.
		log.Printf("[BatchProcessor] unsubscribe lookup for batch %s failed: %v", b.ID, err)
		return nil
	}

	var skip []string
	sendable := recipients[:0:0]
	for _, r := range recipients {
		if unsubscribed[suppression.Normalize(r.Email)] {
			skip = append(skip, r.ID)
			continue
		}
		sendable = append(sendable, r)
	}
	if len(skip) == 0 {
		return sendable
	}

	n, err := p.recipients.MarkSkipped(ctx, skip, domain.SkipUnsubscribed)
	if err != nil {
		log.Printf("[BatchProcessor] mark skipped in batch %s: %v", b.ID, err)
	}
	if n > 0 {
		res.Skipped += n
		metrics.Deliveries.WithLabelValues(string(domain.RecipientSkipped)).Add(float64(n))
		p.addCounts(ctx, b, domain.Counts{Skipped: n})
	}
	return sendable
}

// deliver sends to one recipient. It returns false when the run must stop
// because the context was cancelled mid-send; the recipient then stays in
// sending for the recovery sweep.
func (p *BatchProcessor) deliver(ctx context.Context, c *domain.Campaign, b *domain.Batch, r *domain.Recipient,
	transport sending.Transport, policy retry.Policy, d config.Delivery, res *Result) bool {

	ok, err := p.recipients.ClaimRecipient(ctx, r.ID)
	if err != nil {
		log.Printf("[BatchProcessor] claim recipient %s: %v", r.ID, err)
		return true
	}
	if !ok {
		return true
	}

	token := r.UnsubscribeToken
	if token == "" {
		token, err = p.suppressions.EnsureToken(ctx, r.Email)
		if err != nil {
			p.fail(ctx, b, r.ID, 0, fmt.Sprintf("unsubscribe token: %v", err), res)
			return true
		}
		if err := p.recipients.SetUnsubscribeToken(ctx, r.ID, token); err != nil {
			log.Printf("[BatchProcessor] store token for %s: %v", r.ID, err)
		}
	}

	msg := p.personalizer.Message(content.Input{
		Campaign:  c,
		Recipient: r,
		Token:     token,
		BaseURL:   d.BaseURL,
		FromEmail: d.FromEmail,
		FromName:  d.FromName,
	})

	retries, err := policy.Do(ctx, func(ctx context.Context) error {
		return transport.Send(ctx, msg)
	})
	if err != nil && ctx.Err() != nil {
		return false
	}
	// retry_count accumulates across runs, including recovery requeues
	retries += r.RetryCount
	if err != nil {
		p.fail(ctx, b, r.ID, retries, err.Error(), res)
		return true
	}

	moved, err := p.recipients.MarkSent(ctx, r.ID, retries, p.now())
	if err != nil {
		log.Printf("[BatchProcessor] mark sent %s: %v", r.ID, err)
		return true
	}
	if !moved {
		log.Printf("[BatchProcessor] recipient %s left sending during delivery, not counted", r.ID)
		return true
	}
	res.Sent++
	metrics.Deliveries.WithLabelValues(string(domain.RecipientSent)).Inc()
	p.addCounts(ctx, b, domain.Counts{Sent: 1})
	return true
}

func (p *BatchProcessor) fail(ctx context.Context, b *domain.Batch, id string, retries int, reason string, res *Result) {
	moved, err := p.recipients.MarkFailed(ctx, id, retries, reason)
	if err != nil {
		log.Printf("[BatchProcessor] mark failed %s: %v", id, err)
		return
	}
	if !moved {
		log.Printf("[BatchProcessor] recipient %s left sending before failing, not counted", id)
		return
	}
	res.Failed++
	metrics.Deliveries.WithLabelValues(string(domain.RecipientFailed)).Inc()
	p.addCounts(ctx, b, domain.Counts{Failed: 1})
}

func (p *BatchProcessor) addCounts(ctx context.Context, b *domain.Batch, d domain.Counts) {
	if err := p.batches.AddCounts(ctx, b.CampaignID, b.ID, d); err != nil {
		log.Printf("[BatchProcessor] update counters of batch %s: %v", b.ID, err)
	}
}

// finish settles the batch status, chains the next batch, and finalizes
// the campaign when nothing is left to send.
func (p *BatchProcessor) finish(ctx context.Context, b *domain.Batch, fetched int, res *Result) {
	// Bookkeeping must land even if the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	left, err := p.recipients.CountPendingInBatch(ctx, b.ID)
	if err != nil {
		log.Printf("[BatchProcessor] count pending in batch %s: %v", b.ID, err)
		left = -1
	}
	res.Remaining = left

	if left != 0 || res.Sent+res.Failed+res.Skipped != fetched {
		p.moveBatch(ctx, b.ID, domain.BatchPending)
		res.Status = string(domain.BatchPending)
		if left < 0 {
			res.Remaining = 0
		}
		return
	}

	p.moveBatch(ctx, b.ID, domain.BatchCompleted)
	res.Status = string(domain.BatchCompleted)

	out, err := p.campaigns.Outstanding(ctx, b.CampaignID)
	if err != nil {
		log.Printf("[BatchProcessor] count outstanding of campaign %s: %v", b.CampaignID, err)
		return
	}
	if out.Unassigned > 0 {
		next, err := p.scheduler.NextBatch(ctx, b)
		if err != nil {
			log.Printf("[BatchProcessor] schedule batch after %s: %v", b.ID, err)
		} else {
			res.Message = fmt.Sprintf("next batch %d at %s", next.BatchNumber, next.ScheduledTime.Format(time.RFC3339))
		}
		return
	}
	if out.Done() {
		if err := p.lifecycle.Finalize(ctx, b.CampaignID); err != nil {
			log.Printf("[BatchProcessor] finalize campaign %s: %v", b.CampaignID, err)
		}
	}
}

func (p *BatchProcessor) moveBatch(ctx context.Context, id string, to domain.BatchStatus) {
	if _, err := p.batches.TransitionBatch(ctx, id, domain.BatchProcessing, to); err != nil {
		log.Printf("[BatchProcessor] move batch %s to %s: %v", id, to, err)
	}
}
