package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/service/sending"
)

// Provider names.
const (
	ProviderSMTP = "smtp"
	ProviderSES  = "ses"
	ProviderLog  = "log"
)

// Factory implements sending.Factory. SMTP settings come from the delivery
// source on every call so admin changes apply to the next batch.
type Factory struct {
	source config.Source
	cfg    config.TransportConfig
	ses    config.SESConfig

	newSES func(ctx context.Context, cfg config.SESConfig) (SESAPI, error)

	mu     sync.Mutex
	key    string
	cached sending.Transport
}

// NewFactory creates a transport factory.
func NewFactory(source config.Source, cfg config.TransportConfig, ses config.SESConfig) *Factory {
	if cfg.Provider == "" {
		cfg.Provider = ProviderSMTP
	}
	return &Factory{
		source: source,
		cfg:    cfg,
		ses:    ses,
		newSES: func(ctx context.Context, c config.SESConfig) (SESAPI, error) {
			return NewSESClient(ctx, c)
		},
	}
}

// Transport returns the throttled transport for the current settings.
func (f *Factory) Transport(ctx context.Context) (sending.Transport, error) {
	var (
		key   string
		build func() (sending.Transport, error)
	)
	switch f.cfg.Provider {
	case ProviderSMTP:
		smtpCfg := f.source.Delivery(ctx).SMTP
		if smtpCfg.Host == "" {
			return nil, fmt.Errorf("%w: SMTP host is empty", sending.ErrNotConfigured)
		}
		key = fmt.Sprintf("smtp|%s|%d|%s|%s", smtpCfg.Host, smtpCfg.Port, smtpCfg.User, smtpCfg.Password)
		build = func() (sending.Transport, error) {
			return NewSMTP(smtpCfg, f.cfg.Timeout()), nil
		}
	case ProviderSES:
		if f.ses.Region == "" {
			return nil, fmt.Errorf("%w: SES region is empty", sending.ErrNotConfigured)
		}
		key = "ses|" + f.ses.Region
		build = func() (sending.Transport, error) {
			client, err := f.newSES(ctx, f.ses)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", sending.ErrNotConfigured, err)
			}
			return NewSES(client), nil
		}
	case ProviderLog:
		key = ProviderLog
		build = func() (sending.Transport, error) { return NewLog(nil), nil }
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", sending.ErrNotConfigured, f.cfg.Provider)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil && f.key == key {
		return f.cached, nil
	}
	t, err := build()
	if err != nil {
		return nil, err
	}
	f.cached = NewThrottled(t, f.cfg.RatePerSecond, f.cfg.Burst, f.cfg.Timeout())
	f.key = key
	return f.cached, nil
}
