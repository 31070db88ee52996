// Package tracking serves the public open, click, and unsubscribe endpoints
// and moves the resulting events to storage, either directly or through an
// SQS queue drained by the worker.
package tracking

import (
	"context"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Recorder persists a tracking event. It reports whether the event changed
// a campaign counter; duplicate opens report false.
type Recorder interface {
	Record(ctx context.Context, ev *domain.TrackingEvent) (bool, error)
}

// Unsubscriber redeems unsubscribe tokens.
type Unsubscriber interface {
	Redeem(ctx context.Context, token, campaignID string, source domain.UnsubscribeSource) (string, error)
}
