// Package recipient expands a campaign's target configuration into
// recipient rows.
package recipient

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Repository inserts recipients with skip-on-conflict semantics on
// (campaign_id, email). Every insert method returns only the number of
// newly inserted rows.
type Repository interface {
	InsertAllUsers(ctx context.Context, campaignID string) (int, error)
	InsertUsersByTags(ctx context.Context, campaignID string, tagIDs []string) (int, error)
	InsertAddresses(ctx context.Context, campaignID string, addresses []string) (int, error)
	// RefreshRecipientCount sets the campaign's recipient_count to its
	// current number of recipient rows and returns it.
	RefreshRecipientCount(ctx context.Context, campaignID string) (int, error)
}

// Resolver turns a TargetConfig into pending recipient rows.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve inserts the recipients selected by target and returns how many
// were new. Resolving the same campaign again never creates duplicates.
func (r *Resolver) Resolve(ctx context.Context, campaignID string, target domain.TargetConfig) (int, error) {
	if err := target.Validate(); err != nil {
		return 0, err
	}

	var (
		n   int
		err error
	)
	switch target.Segment {
	case domain.SegmentAll:
		n, err = r.repo.InsertAllUsers(ctx, campaignID)
	case domain.SegmentTag:
		n, err = r.repo.InsertUsersByTags(ctx, campaignID, dedupe(target.TagIDs, strings.TrimSpace))
	case domain.SegmentExternal:
		addrs := NormalizeAddresses(target.Addresses)
		if len(addrs) == 0 {
			return 0, fmt.Errorf("no valid addresses: %w", domain.ErrInvalidTarget)
		}
		n, err = r.repo.InsertAddresses(ctx, campaignID, addrs)
	default:
		return 0, fmt.Errorf("unknown segment %q: %w", target.Segment, domain.ErrInvalidTarget)
	}
	if err != nil {
		return 0, fmt.Errorf("insert recipients for %s: %w", campaignID, err)
	}

	total, err := r.repo.RefreshRecipientCount(ctx, campaignID)
	if err != nil {
		return n, fmt.Errorf("refresh recipient count: %w", err)
	}
	log.Printf("[recipient.Resolver] campaign %s: %d new recipients (%d total, segment %s)",
		campaignID, n, total, target.Segment)
	return n, nil
}

// NormalizeAddresses lowercases and trims addresses, drops anything that
// does not parse as a bare address, and removes duplicates.
func NormalizeAddresses(addresses []string) []string {
	return dedupe(addresses, func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return ""
		}
		parsed, err := mail.ParseAddress(s)
		if err != nil || parsed.Address != s {
			return ""
		}
		return s
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
