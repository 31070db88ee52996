package transport

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
	"github.com/ignite/campaign-mailer/internal/service/sending"
)

// Throttled limits the send rate of a transport and stops calling it while
// it is failing.
type Throttled struct {
	next    sending.Transport
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewThrottled wraps next. perSecond <= 0 disables rate limiting.
func NewThrottled(next sending.Transport, perSecond float64, burst int, timeout time.Duration) *Throttled {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// a rejected recipient says nothing about the server's health
		IsSuccessful: func(err error) bool {
			return err == nil || retry.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[Transport] circuit %s: %s -> %s", name, from, to)
		},
	})
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: cb,
		timeout: timeout,
	}
}

func (t *Throttled) Name() string { return t.next.Name() }

// State exposes the breaker state.
func (t *Throttled) State() gobreaker.State { return t.breaker.State() }

func (t *Throttled) Send(ctx context.Context, msg *domain.EmailMessage) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.next.Send(ctx, msg)
	})
	return err
}
