package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/service/sending"
)

// DefaultDispatchInterval is how often the dispatcher looks for due work.
const DefaultDispatchInterval = 30 * time.Second

// BatchRunner processes one batch.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, batchID string, maxToSend int) (Result, error)
}

// CampaignStarter starts scheduled campaigns whose time has come.
type CampaignStarter interface {
	StartDue(ctx context.Context, limit int) (int, error)
}

// DispatchSummary reports what one dispatcher tick did.
type DispatchSummary struct {
	Ran              bool     `json:"ran"`
	CampaignsStarted int      `json:"campaigns_started"`
	Batches          []Result `json:"batches"`
	Sent             int      `json:"sent"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
}

// Dispatcher is the time-based trigger: it starts due scheduled campaigns
// and processes due batches. Each tick runs under a distributed lock so
// only one worker process scans at a time.
type Dispatcher struct {
	runner   BatchRunner
	batches  BatchStore
	starter  CampaignStarter
	lock     distlock.DistLock // nil runs unlocked
	interval time.Duration
	limit    int
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(runner BatchRunner, batches BatchStore, starter CampaignStarter, lock distlock.DistLock) *Dispatcher {
	return &Dispatcher{
		runner:   runner,
		batches:  batches,
		starter:  starter,
		lock:     lock,
		interval: DefaultDispatchInterval,
		limit:    20,
		now:      time.Now,
	}
}

// SetInterval sets the polling interval.
func (d *Dispatcher) SetInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

// SetLimit caps how many due campaigns and batches one tick handles.
func (d *Dispatcher) SetLimit(limit int) {
	if limit > 0 {
		d.limit = limit
	}
}

// Start begins the polling loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())

	log.Printf("[Dispatcher] Starting with poll interval: %v", d.interval)
	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	log.Println("[Dispatcher] Stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.tick()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Dispatcher) tick() {
	sum, err := d.RunOnce(d.ctx)
	if err != nil {
		if d.ctx.Err() == nil {
			log.Printf("[Dispatcher] tick failed: %v", err)
		}
		return
	}
	if sum.CampaignsStarted > 0 || len(sum.Batches) > 0 {
		log.Printf("[Dispatcher] started %d campaigns, processed %d batches (sent=%d failed=%d skipped=%d)",
			sum.CampaignsStarted, len(sum.Batches), sum.Sent, sum.Failed, sum.Skipped)
	}
}

// RunOnce performs a single tick. Ran is false when another process held
// the lock.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchSummary, error) {
	var sum DispatchSummary
	run := func(ctx context.Context) error {
		sum.Ran = true
		return d.dispatch(ctx, &sum)
	}
	if d.lock == nil {
		return sum, run(ctx)
	}
	if _, err := distlock.WithLock(ctx, d.lock, run); err != nil {
		return sum, err
	}
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, sum *DispatchSummary) error {
	if d.starter != nil {
		n, err := d.starter.StartDue(ctx, d.limit)
		if err != nil {
			log.Printf("[Dispatcher] start due campaigns: %v", err)
		}
		sum.CampaignsStarted = n
	}

	due, err := d.batches.DueBatches(ctx, d.now(), d.limit)
	if err != nil {
		return fmt.Errorf("list due batches: %w", err)
	}
	for _, b := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := d.runner.ProcessBatch(ctx, b.ID, 0)
		if err != nil {
			if errors.Is(err, sending.ErrNotConfigured) {
				log.Printf("[Dispatcher] campaign %s failed: %v", b.CampaignID, err)
			} else {
				log.Printf("[Dispatcher] batch %s: %v", b.ID, err)
			}
			continue
		}
		sum.Batches = append(sum.Batches, res)
		sum.Sent += res.Sent
		sum.Failed += res.Failed
		sum.Skipped += res.Skipped
		if res.Message == MessageQuotaExhausted {
			break
		}
	}
	return nil
}
