// Package sending defines the transport capability the delivery worker
// sends through.
//
// SMTP, SES, and a log-only transport implement Transport in
// internal/transport. The worker resolves a Transport per batch through a
// Factory so admin settings changes take effect on the next batch.
package sending

import (
	"context"
	"errors"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// ErrNotConfigured is returned by a Factory when required transport
// settings are missing. It is a configuration error and is never retried.
var ErrNotConfigured = errors.New("email transport not configured")

// Transport delivers a single message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) error
	Name() string
}

// Factory resolves the transport for the current settings.
type Factory interface {
	Transport(ctx context.Context) (Transport, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg *domain.EmailMessage) error

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, msg *domain.EmailMessage) error { return f(ctx, msg) }

// Name implements Transport.
func (f TransportFunc) Name() string { return "func" }

// StaticFactory always returns the same transport. A nil transport reports
// ErrNotConfigured.
type StaticFactory struct {
	T Transport
}

// Transport implements Factory.
func (f StaticFactory) Transport(context.Context) (Transport, error) {
	if f.T == nil {
		return nil, ErrNotConfigured
	}
	return f.T, nil
}
