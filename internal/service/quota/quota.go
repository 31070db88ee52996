// Package quota tracks the global hourly send cap.
//
// The tracker is stateless: every check counts sent recipients inside the
// rolling window straight from storage. Two processes checking at the same
// moment can both see headroom, so the cap is soft. Storage errors fail
// open, so a database hiccup never blocks sending on its own.
package quota

import (
	"context"
	"log"
	"time"

	"github.com/ignite/campaign-mailer/internal/config"
)

// Repository reports how many recipients were sent since a point in time.
type Repository interface {
	// SentSince returns the number of recipients with sent_at >= since and
	// the oldest such sent_at (zero when count is 0).
	SentSince(ctx context.Context, since time.Time) (int, time.Time, error)
}

// Status is the result of a quota check.
type Status struct {
	CanSendNow    bool      `json:"can_send_now"`
	Remaining     int       `json:"remaining"`
	Used          int       `json:"used"`
	Cap           int       `json:"cap"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// Tracker answers "can N more emails be sent right now".
type Tracker struct {
	repo     Repository
	settings config.Source
	now      func() time.Time
}

// NewTracker creates a quota tracker. Cap and window are read from settings
// on every call.
func NewTracker(repo Repository, settings config.Source) *Tracker {
	return &Tracker{repo: repo, settings: settings, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CheckQuota reports whether requested more sends fit in the current window.
func (t *Tracker) CheckQuota(ctx context.Context, requested int) Status {
	d := t.settings.Delivery(ctx)
	now := t.now()
	window := d.QuotaWindow()
	limit := d.HourlyCap

	used, oldest, err := t.repo.SentSince(ctx, now.Add(-window))
	if err != nil {
		log.Printf("[quota.Tracker] count failed, allowing send: %v", err)
		return Status{
			CanSendNow:    requested <= limit,
			Remaining:     limit,
			Cap:           limit,
			WindowResetAt: now.Add(window),
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	reset := now.Add(window)
	if used > 0 && !oldest.IsZero() {
		reset = oldest.Add(window)
	}
	return Status{
		CanSendNow:    remaining >= requested,
		Remaining:     remaining,
		Used:          used,
		Cap:           limit,
		WindowResetAt: reset,
	}
}

// GetQuotaStatus returns the current quota without asking for capacity.
func (t *Tracker) GetQuotaStatus(ctx context.Context) Status {
	return t.CheckQuota(ctx, 0)
}
