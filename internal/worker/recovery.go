package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
)

const (
	// DefaultRecoveryInterval is how often the sweeper scans for stuck rows.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a recipient may stay in sending, or a
	// batch in processing, before it is considered abandoned.
	DefaultStaleAge = 15 * time.Minute
)

// RecoverySweeper returns work abandoned by a crashed run to the queue.
// Recipients stuck in sending go back to pending with their retry count
// raised, or fail once it reaches the maximum; batches stuck in processing
// go back to pending so the dispatcher picks them up again.
type RecoverySweeper struct {
	batches    BatchStore
	recipients RecipientStore
	settings   config.Source
	interval   time.Duration
	staleAge   time.Duration
	now        func() time.Time
}

// NewRecoverySweeper creates a sweeper. Non-positive durations use the
// defaults.
func NewRecoverySweeper(batches BatchStore, recipients RecipientStore, settings config.Source, interval, staleAge time.Duration) *RecoverySweeper {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &RecoverySweeper{
		batches:    batches,
		recipients: recipients,
		settings:   settings,
		interval:   interval,
		staleAge:   staleAge,
		now:        time.Now,
	}
}

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (rs *RecoverySweeper) Start(ctx context.Context) {
	log.Printf("[RecoverySweeper] Starting (interval=%s, stale_age=%s)", rs.interval, rs.staleAge)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RecoverySweeper] Stopping")
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns the number of recipients
// requeued, recipients failed, and batches reverted.
func (rs *RecoverySweeper) RunOnce(ctx context.Context) (requeued, failed, batches int) {
	cutoff := rs.now().Add(-rs.staleAge)
	maxRetries := rs.settings.Delivery(ctx).MaxRetries

	requeued, failed, err := rs.recipients.RequeueStuck(ctx, cutoff, maxRetries)
	if err != nil {
		log.Printf("[RecoverySweeper] Error requeueing recipients: %v", err)
	} else if requeued > 0 || failed > 0 {
		log.Printf("[RecoverySweeper] Recipients: requeued %d, failed %d", requeued, failed)
	}

	batches, err = rs.batches.RevertStuckBatches(ctx, cutoff)
	if err != nil {
		log.Printf("[RecoverySweeper] Error reverting batches: %v", err)
	} else if batches > 0 {
		log.Printf("[RecoverySweeper] Reverted %d stuck batches to pending", batches)
	}
	return requeued, failed, batches
}
