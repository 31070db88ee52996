package suppression

import (
	"context"
	"time"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Repository defines the data access contract for unsubscribes and tokens.
// Emails passed in are already normalized.
type Repository interface {
	// FilterUnsubscribed returns the subset of emails on the global list.
	FilterUnsubscribed(ctx context.Context, emails []string) (map[string]bool, error)

	// AddUnsubscribe inserts an entry. An existing entry is preserved.
	AddUnsubscribe(ctx context.Context, u *domain.Unsubscribe) error

	// RemoveUnsubscribe deletes an entry. Returns ErrNotFound if absent.
	RemoveUnsubscribe(ctx context.Context, email string) error

	// ListUnsubscribes returns entries newest first and the total count.
	ListUnsubscribes(ctx context.Context, limit, offset int) ([]domain.Unsubscribe, int, error)

	// ActiveToken returns the newest unexpired, unused token for email, or
	// ErrNotFound.
	ActiveToken(ctx context.Context, email string, now time.Time) (*domain.UnsubscribeToken, error)

	CreateToken(ctx context.Context, t *domain.UnsubscribeToken) error

	// GetToken returns ErrNotFound for unknown tokens.
	GetToken(ctx context.Context, token string) (*domain.UnsubscribeToken, error)

	// MarkTokenUsed stamps used_at if it is not already set.
	MarkTokenUsed(ctx context.Context, token string, at time.Time) error
}
