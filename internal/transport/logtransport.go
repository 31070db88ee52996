package transport

import (
	"context"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Log writes messages to the structured log instead of sending them. It is
// meant for local development.
type Log struct {
	log *logger.Logger
}

func NewLog(l *logger.Logger) *Log {
	if l == nil {
		l = logger.Default()
	}
	return &Log{log: l}
}

func (t *Log) Name() string { return "log" }

func (t *Log) Send(_ context.Context, msg *domain.EmailMessage) error {
	t.log.Info("email not sent (log transport)",
		"to", msg.To,
		"subject", msg.Subject,
		"campaign_id", msg.CampaignID,
		"recipient_id", msg.RecipientID,
		"bytes", len(msg.HTML),
	)
	return nil
}
